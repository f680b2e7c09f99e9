package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoUnsupported = "E_PROTO_UNSUPPORTED"

	// Ownership routing.
	ErrNotOwner    = "E_NOT_OWNER"
	ErrNotFound    = "E_NOT_FOUND"
	ErrUnavailable = "E_UNAVAILABLE"

	// Edit validation.
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrUnknownBlock  = "E_UNKNOWN_BLOCK"
	ErrNotModifiable = "E_NOT_MODIFIABLE"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoUnsupported: {},
	ErrNotOwner:         {},
	ErrNotFound:         {},
	ErrUnavailable:      {},
	ErrOutOfBounds:      {},
	ErrUnknownBlock:     {},
	ErrNotModifiable:    {},
	ErrRateLimit:        {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
