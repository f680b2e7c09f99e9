package main

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/orchestrator"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/pipeline"
	"voxelflow.ai/internal/streaming"
	"voxelflow.ai/internal/terrain/gen"
	"voxelflow.ai/internal/voxel"
)

func TestParseViewers(t *testing.T) {
	got, err := parseViewers("0,24,0; 16.5,8,-3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []mgl64.Vec3{{0, 24, 0}, {16.5, 8, -3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("viewers mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"", "1,2", "a,b,c"} {
		if _, err := parseViewers(bad); err == nil {
			t.Fatalf("parseViewers(%q) should fail", bad)
		}
	}
}

func newLoop(t *testing.T, dir *ownership.Directory, node string) *tickLoop {
	t.Helper()
	reg := voxel.DefaultRegistry()
	g, err := gen.New(gen.DefaultConfig(7), reg)
	if err != nil {
		t.Fatalf("gen: %v", err)
	}
	topo := chunk.Flat{VerticalLimit: true, MinY: 0, MaxY: 0}
	pool := pipeline.NewPool(pipeline.Config{Workers: 2, Runner: pipeline.Stages{Generator: g, Mesher: mesh.Culling{Registry: reg}}})
	o, err := orchestrator.New(orchestrator.Config{ChunkSize: 8, Topology: topo, Pool: pool, Clock: func() time.Time { return time.Unix(0, 0) }})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return &tickLoop{
		orch:    o,
		policy:  streaming.RadiusPolicy{ChunkSize: 8, LoadRadius: 1, UnloadRadius: 2, Topology: topo},
		dir:     dir,
		node:    node,
		viewers: []mgl64.Vec3{{4, 4, 4}},
	}
}

func TestStepLoadsAroundViewerAndReachesActive(t *testing.T) {
	l := newLoop(t, nil, "")
	enq, _ := l.step()
	// One layer, radius 1: the viewer's chunk and its eight neighbours.
	if enq != 9 {
		t.Fatalf("enqueued %d want 9", enq)
	}
	if again, _ := l.step(); again != 0 {
		t.Fatalf("second step enqueued %d already-loaded chunks", again)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		l.orch.Tick()
		if l.orch.Stats().States[lifecycle.Active] == enq {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %+v", l.orch.Stats())
		}
		time.Sleep(time.Millisecond)
	}

	l.viewers = []mgl64.Vec3{{800, 4, 800}}
	if _, un := l.step(); un != enq {
		t.Fatalf("unloaded %d want %d", un, enq)
	}
}

func TestStepSkipsChunksOwnedElsewhere(t *testing.T) {
	dir := ownership.NewDirectory("a", "b")
	l := newLoop(t, dir, "a")
	l.step()
	for _, addr := range l.orch.Loaded() {
		if !dir.Owns("a", addr) {
			t.Fatalf("%s is owned by %s but was loaded on a", addr, dir.Owner(addr))
		}
	}
}
