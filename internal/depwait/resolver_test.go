package depwait

import (
	"testing"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/lifecycle"
)

type states map[chunk.Address]lifecycle.State

func (s states) StateOf(a chunk.Address) (lifecycle.State, bool) {
	st, ok := s[a]
	return st, ok
}

func surround(s states, center chunk.Address, st lifecycle.State) {
	for _, d := range chunk.Directions {
		dx, dy, dz := d.Offset()
		s[center.Offset(dx, dy, dz)] = st
	}
}

func TestRegisterAllNeighborsReady(t *testing.T) {
	s := states{}
	c := chunk.Address{}
	surround(s, c, lifecycle.Generated)
	s[c.Offset(0, 1, 0)] = lifecycle.Active
	r := NewResolver(chunk.Flat{}, s)
	if !r.Register(c) {
		t.Fatalf("expected immediate unblock")
	}
	if r.Waiting() != 0 || r.Links() != 0 {
		t.Fatalf("unblocked chunk should leave no bookkeeping: waiting=%d links=%d", r.Waiting(), r.Links())
	}
}

func TestRegisterOneMissingNeighbor(t *testing.T) {
	s := states{}
	c := chunk.Address{}
	surround(s, c, lifecycle.Generated)
	east := c.Offset(1, 0, 0)
	s[east] = lifecycle.Generating
	r := NewResolver(chunk.Flat{}, s)
	if r.Register(c) {
		t.Fatalf("expected chunk to wait")
	}
	set := r.WaitSet(c)
	if set.Len() != 1 || !set.Has(chunk.East) {
		t.Fatalf("wait set=%v want [east]", set.Slice())
	}

	s[east] = lifecycle.Generated
	got := r.NotifyReady(east)
	if len(got) != 1 || got[0] != c {
		t.Fatalf("unblocked=%v want [%v]", got, c)
	}
	if r.IsWaiting(c) || r.Links() != 0 {
		t.Fatalf("state should be empty after unblock")
	}
	if again := r.NotifyReady(east); len(again) != 0 {
		t.Fatalf("chunk reported unblocked twice: %v", again)
	}
}

func TestBoundaryAndUnloadedNeighborsCountAsReady(t *testing.T) {
	s := states{}
	c := chunk.Address{X: 1}
	r := NewResolver(chunk.Flat{BoundaryR: 1}, s)
	if !r.Register(c) {
		t.Fatalf("boundary neighbours and unloaded neighbours should not block")
	}
}

func TestMutualNeighborsDoNotDeadlock(t *testing.T) {
	a := chunk.Address{}
	b := chunk.Address{X: 1}
	s := states{a: lifecycle.Generating, b: lifecycle.Generating}
	r := NewResolver(chunk.Flat{}, s)

	s[a] = lifecycle.Generated
	if got := r.NotifyReady(a); len(got) != 0 {
		t.Fatalf("no one waits on a yet: %v", got)
	}
	if r.Register(a) {
		t.Fatalf("a should wait on b")
	}
	if set := r.WaitSet(a); set.Len() != 1 || !set.Has(chunk.East) {
		t.Fatalf("a wait set=%v", set.Slice())
	}

	s[b] = lifecycle.Generated
	got := r.NotifyReady(b)
	if len(got) != 1 || got[0] != a {
		t.Fatalf("unblocked=%v want [a]", got)
	}
	if !r.Register(b) {
		t.Fatalf("b should be meshable immediately once a is generated")
	}
	if r.Waiting() != 0 {
		t.Fatalf("waiting=%d want 0", r.Waiting())
	}
}

func TestForgetReleasesWaitersAndDropsOwnLinks(t *testing.T) {
	c := chunk.Address{}
	east := c.Offset(1, 0, 0)
	west := c.Offset(-1, 0, 0)
	s := states{c: lifecycle.Generated, east: lifecycle.Scheduled, west: lifecycle.Generating}
	r := NewResolver(chunk.Flat{}, s)
	r.Register(c)
	if r.WaitSet(c).Len() != 2 {
		t.Fatalf("wait set=%v", r.WaitSet(c).Slice())
	}

	delete(s, east)
	if got := r.Forget(east); len(got) != 0 {
		t.Fatalf("c still waits on west: %v", got)
	}
	if set := r.WaitSet(c); set.Len() != 1 || !set.Has(chunk.West) {
		t.Fatalf("wait set=%v want [west]", set.Slice())
	}

	r.Forget(c)
	if r.Links() != 0 || r.Waiting() != 0 {
		t.Fatalf("forget left links=%d waiting=%d", r.Links(), r.Waiting())
	}
}
