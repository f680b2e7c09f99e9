// Package depwait tracks chunks that are waiting on face neighbours to finish
// generation before they may be meshed.
//
// Readiness only ever looks at generation state, never meshing state, and
// generation of a chunk depends on nothing but its own address. Every wait set
// therefore empties once its neighbours generate, and no cycle can form.
package depwait

import (
	"sort"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/lifecycle"
)

// StateLookup reports the recorded state of a chunk; ok is false when the
// chunk is not loaded at all.
type StateLookup interface {
	StateOf(a chunk.Address) (s lifecycle.State, ok bool)
}

// Resolver holds address back-references only. Dropping a chunk never has to
// tear down anything but map entries.
type Resolver struct {
	topo   chunk.Topology
	lookup StateLookup

	waiting map[chunk.Address]chunk.DirectionSet
	// waiters[n][w] is the direction from waiter w to neighbour n.
	waiters map[chunk.Address]map[chunk.Address]chunk.Direction
}

func NewResolver(topo chunk.Topology, lookup StateLookup) *Resolver {
	return &Resolver{
		topo:    topo,
		lookup:  lookup,
		waiting: map[chunk.Address]chunk.DirectionSet{},
		waiters: map[chunk.Address]map[chunk.Address]chunk.Direction{},
	}
}

// Register computes the wait set of a. It returns true when a has no unready
// neighbours, in which case nothing is recorded for it.
func (r *Resolver) Register(a chunk.Address) bool {
	r.drop(a)
	var set chunk.DirectionSet
	for _, d := range chunk.Directions {
		n, ok := chunk.FaceNeighbor(r.topo, a, d)
		if !ok {
			continue
		}
		s, loaded := r.lookup.StateOf(n)
		if !loaded || s.IsReady() {
			continue
		}
		set = set.With(d)
		ws := r.waiters[n]
		if ws == nil {
			ws = map[chunk.Address]chunk.Direction{}
			r.waiters[n] = ws
		}
		ws[a] = d
	}
	if set.Empty() {
		return true
	}
	r.waiting[a] = set
	return false
}

// NotifyReady is called once when a reaches Generated. It returns the waiters
// whose wait set just became empty, in address order.
func (r *Resolver) NotifyReady(a chunk.Address) []chunk.Address {
	ws := r.waiters[a]
	if len(ws) == 0 {
		delete(r.waiters, a)
		return nil
	}
	delete(r.waiters, a)
	var unblocked []chunk.Address
	for w, d := range ws {
		set, ok := r.waiting[w]
		if !ok {
			continue
		}
		set = set.Without(d)
		if set.Empty() {
			delete(r.waiting, w)
			unblocked = append(unblocked, w)
			continue
		}
		r.waiting[w] = set
	}
	sort.Slice(unblocked, func(i, j int) bool { return unblocked[i].Less(unblocked[j]) })
	return unblocked
}

// Forget removes a, which is leaving the world, as a waiter and releases
// everything waiting on it: a missing neighbour is boundary.
func (r *Resolver) Forget(a chunk.Address) []chunk.Address {
	r.drop(a)
	return r.NotifyReady(a)
}

// drop removes a's own wait set and its reverse links.
func (r *Resolver) drop(a chunk.Address) {
	set, ok := r.waiting[a]
	if !ok {
		return
	}
	for _, d := range set.Slice() {
		n, ok := chunk.FaceNeighbor(r.topo, a, d)
		if !ok {
			continue
		}
		if ws := r.waiters[n]; ws != nil {
			delete(ws, a)
			if len(ws) == 0 {
				delete(r.waiters, n)
			}
		}
	}
	delete(r.waiting, a)
}

func (r *Resolver) WaitSet(a chunk.Address) chunk.DirectionSet { return r.waiting[a] }

func (r *Resolver) IsWaiting(a chunk.Address) bool {
	_, ok := r.waiting[a]
	return ok
}

// Waiting is the number of chunks with a non-empty wait set.
func (r *Resolver) Waiting() int { return len(r.waiting) }

// Links is the number of reverse links held. Diagnostic.
func (r *Resolver) Links() int {
	n := 0
	for _, ws := range r.waiters {
		n += len(ws)
	}
	return n
}
