package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoUnsupported,
		ErrNotOwner,
		ErrNotFound,
		ErrUnavailable,
		ErrOutOfBounds,
		ErrUnknownBlock,
		ErrNotModifiable,
		ErrRateLimit,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") || IsKnownCode("E_STALE") {
		t.Fatalf("expected unknown code rejected")
	}
}
