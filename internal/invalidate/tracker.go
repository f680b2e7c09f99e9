// Package invalidate owns per-chunk data versions. Version stamps are the
// only cancellation mechanism: a worker result computed against an older
// version is dropped on arrival.
package invalidate

import (
	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/lifecycle"
)

// Target is the orchestrator side of a dirty mark. Remesh is called for an
// Active chunk after its version has been bumped, and must move it to
// Meshing and queue a mesh task. The task is tagged with the version current
// at admission, which is never older than the mark that caused it.
type Target interface {
	StateOf(a chunk.Address) (lifecycle.State, bool)
	Remesh(a chunk.Address)
}

type entry struct {
	version uint64
	// unsaved is set by an accepted mutation and cleared once a save of
	// that version or later succeeds.
	unsaved bool
}

type Stats struct {
	Tracked  int
	Unsaved  int
	Accepted uint64
	Stale    uint64
	Marked   uint64
}

// Tracker is owned by the orchestrating goroutine.
type Tracker struct {
	target  Target
	entries map[chunk.Address]*entry

	accepted uint64
	stale    uint64
	marked   uint64
}

func NewTracker(target Target) *Tracker {
	return &Tracker{target: target, entries: map[chunk.Address]*entry{}}
}

// Set records the version of freshly generated or loaded data. Loaded data is
// clean; it matches what is stored.
func (t *Tracker) Set(a chunk.Address, version uint64) {
	if version == 0 {
		version = 1
	}
	t.entries[a] = &entry{version: version}
}

func (t *Tracker) Version(a chunk.Address) (uint64, bool) {
	e, ok := t.entries[a]
	if !ok {
		return 0, false
	}
	return e.version, true
}

// MarkDirty records a mutation of a: the version goes up exactly once and
// the chunk is unsaved until a save of that version succeeds. An Active chunk
// is handed to the target for remeshing at the new version. It returns false
// for an address with no data.
//
// A neighbour's change never goes through here: a's voxels are untouched, so
// its version stays put and the orchestrator only remeshes it.
func (t *Tracker) MarkDirty(a chunk.Address) (uint64, bool) {
	e, ok := t.entries[a]
	if !ok {
		return 0, false
	}
	e.version++
	e.unsaved = true
	t.marked++
	if t.target != nil {
		if st, ok := t.target.StateOf(a); ok && st == lifecycle.Active {
			t.target.Remesh(a)
		}
	}
	return e.version, true
}

// Accept reports whether a result computed at version is still current.
// Stale results are counted and otherwise ignored.
func (t *Tracker) Accept(a chunk.Address, version uint64) bool {
	e, ok := t.entries[a]
	if !ok || e.version != version {
		t.stale++
		return false
	}
	t.accepted++
	return true
}

// Unsaved reports whether a holds mutations that have not been persisted.
func (t *Tracker) Unsaved(a chunk.Address) bool {
	e, ok := t.entries[a]
	return ok && e.unsaved
}

// Saved clears the unsaved flag if version is still current. A save of an
// older version leaves the chunk dirty.
func (t *Tracker) Saved(a chunk.Address, version uint64) bool {
	e, ok := t.entries[a]
	if !ok || e.version != version {
		return false
	}
	e.unsaved = false
	return true
}

func (t *Tracker) Forget(a chunk.Address) { delete(t.entries, a) }

func (t *Tracker) Stats() Stats {
	st := Stats{Tracked: len(t.entries), Accepted: t.accepted, Stale: t.stale, Marked: t.marked}
	for _, e := range t.entries {
		if e.unsaved {
			st.Unsaved++
		}
	}
	return st
}
