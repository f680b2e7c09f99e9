// Package chunkstore persists encoded chunk bytes keyed by address. Backends
// are interchangeable; the orchestrator only sees Store.
package chunkstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"voxelflow.ai/internal/chunk"
)

// Store is safe for concurrent use. Load reports ok=false when nothing is
// stored for a.
type Store interface {
	Save(ctx context.Context, a chunk.Address, b []byte) error
	Load(ctx context.Context, a chunk.Address) (b []byte, ok bool, err error)
	Close() error
}

// Lister enumerates stored addresses. Every backend here implements it.
type Lister interface {
	List(ctx context.Context) ([]chunk.Address, error)
}

const (
	BackendDir     = "dir"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

var ErrUnknownBackend = errors.New("chunkstore: unknown backend")

// Open builds the named backend rooted at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendDir:
		return OpenDir(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendLevelDB:
		return OpenLevelDB(path)
	case BackendMemory, "":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}

// binary key: face byte then three zigzag varints.
func encodeKey(a chunk.Address) []byte {
	buf := make([]byte, 1, 1+3*binary.MaxVarintLen64)
	buf[0] = a.Face
	buf = binary.AppendVarint(buf, int64(a.X))
	buf = binary.AppendVarint(buf, int64(a.Y))
	buf = binary.AppendVarint(buf, int64(a.Z))
	return buf
}

func decodeKey(b []byte) (chunk.Address, error) {
	if len(b) < 4 {
		return chunk.Address{}, fmt.Errorf("chunkstore: short key %x", b)
	}
	a := chunk.Address{Face: b[0]}
	rest := b[1:]
	var vals [3]int64
	for i := range vals {
		v, n := binary.Varint(rest)
		if n <= 0 {
			return chunk.Address{}, fmt.Errorf("chunkstore: bad key %x", b)
		}
		vals[i] = v
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return chunk.Address{}, fmt.Errorf("chunkstore: trailing key bytes %x", b)
	}
	a.X, a.Y, a.Z = int(vals[0]), int(vals[1]), int(vals[2])
	return a, nil
}
