package protocol

import "voxelflow.ai/internal/chunk"

// Addr is the wire form of a chunk address.
type Addr struct {
	Face uint8 `json:"face"`
	X    int   `json:"x"`
	Y    int   `json:"y"`
	Z    int   `json:"z"`
}

func AddrOf(a chunk.Address) Addr { return Addr{Face: a.Face, X: a.X, Y: a.Y, Z: a.Z} }

func (a Addr) Address() chunk.Address {
	return chunk.Address{Face: a.Face, X: a.X, Y: a.Y, Z: a.Z}
}

// HELLO (participant -> authority)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ParticipantName   string   `json:"participant_name"`
}

// WELCOME (authority -> participant)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ParticipantID   string `json:"participant_id"`
	NodeID          string `json:"node_id,omitempty"`
	ChunkSize       int    `json:"chunk_size"`
	PaletteDigest   string `json:"palette_digest"`
	PaletteCount    int    `json:"palette_count"`
}

// CHUNK_REQUEST (participant -> authority). KnownVersion 0 means no copy.
type ChunkRequestMsg struct {
	Type         string `json:"type"`
	ReqID        string `json:"req_id,omitempty"`
	Addr         Addr   `json:"addr"`
	KnownVersion uint64 `json:"known_version"`
}

// CHUNK_DATA (authority -> participant). Blocks is base64 RLE.
type ChunkDataMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Addr    Addr   `json:"addr"`
	Version uint64 `json:"version"`
	Size    int    `json:"size"`
	Blocks  string `json:"blocks"`
	Digest  string `json:"digest"`
}

// CHUNK_UNCHANGED (authority -> participant)
type ChunkUnchangedMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Addr    Addr   `json:"addr"`
	Version uint64 `json:"version"`
}

// EDIT (participant -> authority). Pos is the chunk-local voxel coordinate.
type EditMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Addr  Addr   `json:"addr"`
	Pos   [3]int `json:"pos"`
	Block uint16 `json:"block"`
}

// EDIT_ACK (authority -> editor)
type EditAckMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Addr    Addr   `json:"addr"`
	Version uint64 `json:"version"`
}

// CHUNK_DELTA (authority -> every other subscriber)
type ChunkDeltaMsg struct {
	Type    string `json:"type"`
	Addr    Addr   `json:"addr"`
	Pos     [3]int `json:"pos"`
	Block   uint16 `json:"block"`
	Version uint64 `json:"version"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
