package ownership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

type inbox map[ParticipantID][]Delta

func newAuthority(t *testing.T, got inbox) (*Authority, *MemWorld, chunk.Address) {
	t.Helper()
	w := NewMemWorld()
	a := chunk.Address{X: 2, Z: -1}
	w.Put(a, voxel.New(4))
	auth := NewAuthority(AuthorityConfig{
		World:     w,
		Registry:  voxel.DefaultRegistry(),
		ChunkSize: 4,
		Deliver:   func(to ParticipantID, d Delta) { got[to] = append(got[to], d) },
	})
	return auth, w, a
}

func TestSecondRequestIsUnchanged(t *testing.T) {
	auth, _, a := newAuthority(t, inbox{})
	ctx := context.Background()
	p := NewParticipantID()

	first, err := auth.Request(ctx, p, a, 0)
	if err != nil || first.Unchanged || first.Data == nil || first.Version != 1 {
		t.Fatalf("first=%+v err=%v", first, err)
	}
	second, err := auth.Request(ctx, p, a, first.Version)
	if err != nil || !second.Unchanged || second.Version != first.Version || second.Data != nil {
		t.Fatalf("second=%+v err=%v", second, err)
	}
	stale, _ := auth.Request(ctx, p, a, 99)
	if stale.Unchanged || stale.Data == nil {
		t.Fatalf("mismatched known version should get data: %+v", stale)
	}
}

func TestEditFansOutToPriorSubscribersOnly(t *testing.T) {
	got := inbox{}
	auth, _, a := newAuthority(t, got)
	ctx := context.Background()
	editor, sub1, sub2, late := ParticipantID("editor"), ParticipantID("s1"), ParticipantID("s2"), ParticipantID("late")
	for _, p := range []ParticipantID{editor, sub1, sub2} {
		if _, err := auth.Request(ctx, p, a, 0); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	other := ParticipantID("other")
	v, err := auth.Submit(ctx, Edit{Addr: a, X: 1, Y: 2, Z: 3, Block: 4, From: editor})
	if err != nil || v != 2 {
		t.Fatalf("submit v=%d err=%v", v, err)
	}
	if _, err := auth.Request(ctx, late, a, 0); err != nil {
		t.Fatalf("late request: %v", err)
	}
	if len(got[sub1]) != 1 || len(got[sub2]) != 1 {
		t.Fatalf("each subscriber gets one delta: %v", got)
	}
	if len(got[editor]) != 0 || len(got[late]) != 0 || len(got[other]) != 0 {
		t.Fatalf("editor and non-subscribers get nothing: %v", got)
	}
	d := got[sub1][0]
	if d.Version != 2 || d.Block != 4 || d.X != 1 || d.Y != 2 || d.Z != 3 || d.Addr != a {
		t.Fatalf("delta=%+v", d)
	}
}

func TestSubmitValidates(t *testing.T) {
	auth, w, a := newAuthority(t, inbox{})
	ctx := context.Background()
	cases := []struct {
		e    Edit
		code string
	}{
		{Edit{Addr: a, X: 4, Block: 1}, protocol.ErrOutOfBounds},
		{Edit{Addr: a, Y: -1, Block: 1}, protocol.ErrOutOfBounds},
		{Edit{Addr: a, Block: 999}, protocol.ErrUnknownBlock},
		{Edit{Addr: chunk.Address{X: 50}, Block: 1}, protocol.ErrNotFound},
	}
	for _, tc := range cases {
		_, err := auth.Submit(ctx, tc.e)
		var ee *EditError
		if !errors.As(err, &ee) || ee.Code != tc.code {
			t.Fatalf("edit %+v: err=%v want code %s", tc.e, err, tc.code)
		}
	}
	d, _ := w.Snapshot(ctx, a)
	if d.Version != 1 {
		t.Fatalf("rejected edits must not bump the version: %d", d.Version)
	}
}

func TestUnsubscribeStopsDeltas(t *testing.T) {
	got := inbox{}
	auth, _, a := newAuthority(t, got)
	ctx := context.Background()
	p := ParticipantID("p")
	auth.Request(ctx, p, a, 0)
	auth.Unsubscribe(p, nil)
	if auth.Subscribers(a) != 0 {
		t.Fatalf("subscribers=%d", auth.Subscribers(a))
	}
	auth.Submit(ctx, Edit{Addr: a, Block: 1, From: "x"})
	if len(got[p]) != 0 {
		t.Fatalf("unsubscribed participant got %v", got[p])
	}
}

func TestReplicaFollowsAuthority(t *testing.T) {
	got := inbox{}
	auth, _, a := newAuthority(t, got)
	ctx := context.Background()
	r := NewReplica()
	p := ParticipantID("replica")

	rep, _ := auth.Request(ctx, p, a, r.Known(a))
	if err := r.ApplyReply(rep); err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
	auth.Submit(ctx, Edit{Addr: a, X: 0, Y: 0, Z: 0, Block: 2, From: "editor"})
	auth.Submit(ctx, Edit{Addr: a, X: 1, Y: 0, Z: 0, Block: 3, From: "editor"})
	for _, d := range got[p] {
		if !r.ApplyDelta(d) {
			t.Fatalf("in-order delta rejected: %+v", d)
		}
	}
	if r.Known(a) != 3 {
		t.Fatalf("replica version=%d want 3", r.Known(a))
	}
	c, _ := r.Get(a)
	if c.Get(0, 0, 0) != 2 || c.Get(1, 0, 0) != 3 {
		t.Fatalf("replica contents not updated")
	}
	rep, _ = auth.Request(ctx, p, a, r.Known(a))
	if !rep.Unchanged {
		t.Fatalf("replica in sync should see unchanged")
	}
	if err := r.ApplyReply(rep); err != nil {
		t.Fatalf("unchanged reply: %v", err)
	}
}

func TestReplicaGapDropsCopy(t *testing.T) {
	r := NewReplica()
	a := chunk.Address{}
	d := voxel.New(2)
	r.ApplyReply(Reply{Addr: a, Version: 5, Data: d})
	if r.ApplyDelta(Delta{Addr: a, Version: 7, Block: 1}) {
		t.Fatalf("gap should not apply")
	}
	if r.Known(a) != 0 || r.Len() != 0 {
		t.Fatalf("gap should drop cached copy")
	}
	if r.ApplyDelta(Delta{Addr: a, Version: 1}) {
		t.Fatalf("delta for uncached chunk should not apply")
	}
	if err := r.ApplyReply(Reply{Addr: a, Version: 5, Unchanged: true}); err == nil {
		t.Fatalf("unchanged reply without cache should fail")
	}
}

func TestDirectoryStableOwnership(t *testing.T) {
	d := NewDirectory("node-c", "node-a", "node-b")
	again := NewDirectory("node-b", "node-c", "node-a")
	counts := map[string]int{}
	moved := 0
	smaller := NewDirectory("node-a", "node-b")
	for x := -20; x < 20; x++ {
		for z := -20; z < 20; z++ {
			a := chunk.Address{X: x, Z: z}
			o := d.Owner(a)
			if o != again.Owner(a) {
				t.Fatalf("owner depends on node order at %v", a)
			}
			counts[o]++
			if o != "node-c" && smaller.Owner(a) != o {
				moved++
			}
		}
	}
	if len(counts) != 3 {
		t.Fatalf("expected every node to own something: %v", counts)
	}
	if moved != 0 {
		t.Fatalf("removing node-c moved %d chunks owned by others", moved)
	}
	if NewDirectory().Owner(chunk.Address{}) != "" {
		t.Fatalf("empty directory should own nothing")
	}
}

func TestParticipantIDsAreUnique(t *testing.T) {
	seen := map[ParticipantID]bool{}
	for i := 0; i < 100; i++ {
		id := NewParticipantID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

// barrierWorld holds every Apply until want of them are running at once.
type barrierWorld struct {
	*MemWorld
	want int

	mu      sync.Mutex
	entered int
	all     chan struct{}
}

func (w *barrierWorld) Apply(ctx context.Context, e Edit) (uint64, error) {
	w.mu.Lock()
	w.entered++
	if w.entered == w.want {
		close(w.all)
	}
	w.mu.Unlock()
	select {
	case <-w.all:
	case <-time.After(2 * time.Second):
		w.mu.Lock()
		got := w.entered
		w.mu.Unlock()
		return 0, fmt.Errorf("only %d of %d edits ran concurrently", got, w.want)
	}
	return w.MemWorld.Apply(ctx, e)
}

func TestEditsToDifferentChunksRunConcurrently(t *testing.T) {
	const n = 8
	w := &barrierWorld{MemWorld: NewMemWorld(), want: n, all: make(chan struct{})}
	for i := 0; i < n; i++ {
		w.Put(chunk.Address{X: i}, voxel.New(4))
	}
	auth := NewAuthority(AuthorityConfig{World: w, Registry: voxel.DefaultRegistry(), ChunkSize: 4})

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := auth.Submit(context.Background(), Edit{Addr: chunk.Address{X: i}, Block: 1})
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
}

func TestConcurrentEditsToOneChunkDeliverInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64
	w := NewMemWorld()
	a := chunk.Address{}
	w.Put(a, voxel.New(4))
	auth := NewAuthority(AuthorityConfig{
		World:     w,
		Registry:  voxel.DefaultRegistry(),
		ChunkSize: 4,
		Deliver: func(_ ParticipantID, d Delta) {
			mu.Lock()
			seen = append(seen, d.Version)
			mu.Unlock()
		},
	})
	ctx := context.Background()
	if _, err := auth.Request(ctx, "watcher", a, 0); err != nil {
		t.Fatalf("request: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := auth.Submit(ctx, Edit{Addr: a, X: i % 4, Block: 1, From: "editor"}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("delivered %d deltas want %d", len(seen), n)
	}
	for i, v := range seen {
		if v != uint64(i+2) {
			t.Fatalf("delta %d has version %d; order %v", i, v, seen)
		}
	}
}

func TestAuthorityRefusesChunksOwnedElsewhere(t *testing.T) {
	dir := NewDirectory("n1", "n2")
	w := NewMemWorld()
	var foreign chunk.Address
	for x := 0; ; x++ {
		if foreign = (chunk.Address{X: x}); !dir.Owns("n1", foreign) {
			break
		}
	}
	w.Put(foreign, voxel.New(4))
	auth := NewAuthority(AuthorityConfig{World: w, ChunkSize: 4, Directory: dir, Node: "n1"})
	ctx := context.Background()

	var ee *EditError
	if _, err := auth.Request(ctx, "p", foreign, 0); !errors.As(err, &ee) || ee.Code != protocol.ErrNotOwner {
		t.Fatalf("request err=%v", err)
	}
	if _, err := auth.Submit(ctx, Edit{Addr: foreign, Block: 1}); !errors.As(err, &ee) || ee.Code != protocol.ErrNotOwner {
		t.Fatalf("submit err=%v", err)
	}
	if auth.Subscribers(foreign) != 0 {
		t.Fatalf("refused request must not subscribe")
	}
}
