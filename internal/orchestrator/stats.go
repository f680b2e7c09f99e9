package orchestrator

import (
	"context"
	"fmt"
	"time"

	"voxelflow.ai/internal/budget"
	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/voxel"
)

// Stats is published at the end of every Tick and may be read from any
// goroutine.
type Stats struct {
	Tick   uint64
	Loaded int
	States map[lifecycle.State]int

	GenQueue  int
	MeshQueue int
	Waiting   int
	InFlight  int

	Accepted           uint64
	Stale              uint64
	GenFailures        uint64
	MeshFailures       uint64
	FailedChunks       uint64
	InvalidTransitions uint64

	EditsApplied  uint64
	EditsRejected uint64
	Unsaved       int
	SavesOK       uint64
	SavesFailed   uint64
	Dropped       uint64

	Budget []budget.Usage
}

// Stats returns the snapshot published by the last Tick. Before the first
// Tick it is the zero value.
func (o *Orchestrator) Stats() Stats {
	if st := o.stats.Load(); st != nil {
		return *st
	}
	return Stats{}
}

func (o *Orchestrator) publish() {
	st := &Stats{
		Tick:               o.tick,
		Loaded:             len(o.records),
		States:             make(map[lifecycle.State]int, len(lifecycle.States)),
		GenQueue:           o.genQ.len(),
		MeshQueue:          o.meshQ.len(),
		Waiting:            o.resolver.Waiting(),
		InFlight:           o.pool.InFlight(),
		Accepted:           o.counters.accepted,
		Stale:              o.counters.stale,
		GenFailures:        o.counters.genFailures,
		MeshFailures:       o.counters.meshFailures,
		FailedChunks:       o.counters.failedChunks,
		InvalidTransitions: o.counters.invalidTransitions,
		EditsApplied:       o.counters.editsApplied,
		EditsRejected:      o.counters.editsRejected,
		Unsaved:            o.versions.Stats().Unsaved,
		SavesOK:            o.counters.savesOK,
		SavesFailed:        o.counters.savesFailed,
		Dropped:            o.counters.dropped,
		Budget:             o.ledger.Usage(),
	}
	for _, r := range o.records {
		st.States[r.m.State()]++
	}
	o.stats.Store(st)
}

// Close stops the worker pool and writes every unsaved chunk through the
// saver before closing it. It returns an error when ctx ends first or some
// saves failed; records are left in place either way.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.pool.Close()
	if o.saver == nil {
		return nil
	}
	defer o.saver.Close()

	var todo []chunkstore.Job
	for _, a := range o.Loaded() {
		r := o.records[a]
		if r.data == nil || !o.versions.Unsaved(a) {
			continue
		}
		d := r.data.Clone()
		d.Version, _ = o.versions.Version(a)
		todo = append(todo, chunkstore.Job{Addr: a, Version: d.Version, Bytes: voxel.Encode(d)})
	}

	pending := map[saveKey]bool{}
	failed := 0
	for len(todo) > 0 || len(pending) > 0 {
		for len(todo) > 0 && o.saver.Submit(todo[0]) {
			pending[saveKey{todo[0].Addr, todo[0].Version}] = true
			todo = todo[1:]
		}
		for _, out := range o.saver.DrainResults() {
			k := saveKey{out.Addr, out.Version}
			if !pending[k] {
				continue
			}
			delete(pending, k)
			if out.Err != nil {
				failed++
				continue
			}
			o.versions.Saved(out.Addr, out.Version)
		}
		if len(todo) == 0 && len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("orchestrator: flush interrupted with %d chunks unsaved: %w", len(todo)+len(pending), ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
	o.printf("orchestrator closed tick=%d chunks=%d save_failures=%d", o.tick, len(o.records), failed)
	if failed > 0 {
		return fmt.Errorf("orchestrator: %d chunks failed to save", failed)
	}
	return nil
}

type saveKey struct {
	addr    chunk.Address
	version uint64
}
