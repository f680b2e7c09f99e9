package ownership

import (
	"fmt"
	"sync"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/voxel"
)

// Replica is a read-only cache of chunks owned elsewhere. It never applies
// an edit that the authority has not confirmed.
type Replica struct {
	mu     sync.RWMutex
	chunks map[chunk.Address]*voxel.Data
}

func NewReplica() *Replica {
	return &Replica{chunks: map[chunk.Address]*voxel.Data{}}
}

// Known is the cached version of a; 0 means no copy.
func (r *Replica) Known(a chunk.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.chunks[a]; ok {
		return d.Version
	}
	return 0
}

func (r *Replica) ApplyReply(rep Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep.Unchanged {
		d, ok := r.chunks[rep.Addr]
		if !ok || d.Version != rep.Version {
			return fmt.Errorf("ownership: unchanged reply for %s at version %d but cache does not match", rep.Addr, rep.Version)
		}
		return nil
	}
	if rep.Data == nil {
		return fmt.Errorf("ownership: reply for %s carries no data", rep.Addr)
	}
	d := rep.Data.Clone()
	d.Version = rep.Version
	r.chunks[rep.Addr] = d
	return nil
}

// ApplyDelta applies d only when it is the next version of a cached chunk.
// On a gap the cached copy is dropped so the next request refetches it. It
// reports whether the delta was applied.
func (r *Replica) ApplyDelta(d Delta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[d.Addr]
	if !ok {
		return false
	}
	if d.Version != c.Version+1 || !c.InBounds(d.X, d.Y, d.Z) {
		delete(r.chunks, d.Addr)
		return false
	}
	c.Set(d.X, d.Y, d.Z, d.Block)
	c.Version = d.Version
	return true
}

// Get returns a copy of the cached chunk.
func (r *Replica) Get(a chunk.Address) (*voxel.Data, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.chunks[a]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (r *Replica) Drop(a chunk.Address) {
	r.mu.Lock()
	delete(r.chunks, a)
	r.mu.Unlock()
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}
