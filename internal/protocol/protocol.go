package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello          = "HELLO"
	TypeWelcome        = "WELCOME"
	TypeChunkRequest   = "CHUNK_REQUEST"
	TypeChunkData      = "CHUNK_DATA"
	TypeChunkUnchanged = "CHUNK_UNCHANGED"
	TypeEdit           = "EDIT"
	TypeEditAck        = "EDIT_ACK"
	TypeChunkDelta     = "CHUNK_DELTA"
	TypeError          = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
