package protocol_test

import (
	"encoding/json"
	"testing"

	"voxelflow.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	good := map[string]string{
		protocol.TypeHello:        `{"type":"HELLO","protocol_version":"1.0","participant_name":"peer1"}`,
		protocol.TypeChunkRequest: `{"type":"CHUNK_REQUEST","req_id":"R1","addr":{"face":0,"x":1,"y":-2,"z":3},"known_version":0}`,
		protocol.TypeEdit:         `{"type":"EDIT","req_id":"R2","addr":{"face":0,"x":0,"y":0,"z":0},"pos":[1,2,3],"block":4}`,
	}
	for typ, raw := range good {
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	bad := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0"}`},
		{protocol.TypeChunkRequest, `{"type":"CHUNK_REQUEST","addr":{"x":1,"y":2,"z":3},"known_version":0}`},
		{protocol.TypeChunkRequest, `{"type":"CHUNK_REQUEST","addr":{"face":0,"x":1,"y":2,"z":3},"known_version":-1}`},
		{protocol.TypeEdit, `{"type":"EDIT","addr":{"face":0,"x":0,"y":0,"z":0},"pos":[1,2],"block":4}`},
		{protocol.TypeEdit, `{"type":"EDIT","addr":{"face":0,"x":0,"y":0,"z":0},"pos":[1,2,3],"block":70000}`},
		{protocol.TypeChunkDelta, `{"type":"CHUNK_DELTA"}`},
	}
	for _, tc := range bad {
		if err := v.Validate(tc.typ, []byte(tc.raw)); err == nil {
			t.Fatalf("expected %s to be rejected: %s", tc.typ, tc.raw)
		}
	}
}

func TestMessagesMatchInboundSchemas(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	msgs := []struct {
		typ string
		msg any
	}{
		{protocol.TypeHello, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ParticipantName: "p"}},
		{protocol.TypeChunkRequest, protocol.ChunkRequestMsg{Type: protocol.TypeChunkRequest, Addr: protocol.Addr{X: 2}, KnownVersion: 7}},
		{protocol.TypeEdit, protocol.EditMsg{Type: protocol.TypeEdit, Pos: [3]int{0, 15, 3}, Block: 2}},
	}
	for _, m := range msgs {
		raw, err := json.Marshal(m.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := v.Validate(m.typ, raw); err != nil {
			t.Fatalf("%s does not satisfy its schema: %v", m.typ, err)
		}
	}
}
