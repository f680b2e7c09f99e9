package ownership

import (
	"context"
	"sync"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

// MemWorld is a mutex-guarded World for processes that own chunks without
// running a lifecycle orchestrator, such as a standalone authority in tests.
type MemWorld struct {
	mu     sync.Mutex
	chunks map[chunk.Address]*voxel.Data
}

func NewMemWorld() *MemWorld {
	return &MemWorld{chunks: map[chunk.Address]*voxel.Data{}}
}

// Put stores a copy of d. A zero version becomes 1.
func (w *MemWorld) Put(a chunk.Address, d *voxel.Data) {
	c := d.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	w.mu.Lock()
	w.chunks[a] = c
	w.mu.Unlock()
}

func (w *MemWorld) Snapshot(_ context.Context, a chunk.Address) (*voxel.Data, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.chunks[a]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (w *MemWorld) Apply(_ context.Context, e Edit) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.chunks[e.Addr]
	if !ok {
		return 0, editErr(protocol.ErrNotFound, "chunk %s is not loaded", e.Addr)
	}
	if !d.InBounds(e.X, e.Y, e.Z) {
		return 0, editErr(protocol.ErrOutOfBounds, "pos %d,%d,%d", e.X, e.Y, e.Z)
	}
	d.Set(e.X, e.Y, e.Z, e.Block)
	d.Version++
	return d.Version, nil
}
