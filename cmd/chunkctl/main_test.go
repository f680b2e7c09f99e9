package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/voxel"
)

func TestInspectReportsStoredChunks(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemory()
	d := voxel.New(2)
	d.Version = 4
	d.Set(0, 0, 0, 3)
	d.Set(1, 1, 1, 3)
	saved := chunk.Address{X: 1}
	if err := store.Save(ctx, saved, voxel.Encode(d)); err != nil {
		t.Fatalf("save: %v", err)
	}
	broken := chunk.Address{X: 2}
	_ = store.Save(ctx, broken, []byte("nope"))

	var out bytes.Buffer
	if err := inspect(ctx, &out, store, []chunk.Address{saved, broken, {X: 3}}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%q", lines)
	}
	if !strings.HasPrefix(lines[0], "0:1,0,0 version=4 size=2 solid=2 ") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "corrupt") || !strings.HasSuffix(lines[2], "missing") {
		t.Fatalf("lines=%q", lines)
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(journal.Event{Tick: 9, Kind: journal.KindTransition, Addr: "0:1,2,3", From: "MESHING", To: "MESHED", Version: 2})
	want := "tick=9 kind=transition addr=0:1,2,3 MESHING->MESHED version=2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseAddr(t *testing.T) {
	a, err := parseAddr("1, -2,3")
	if err != nil || a != (chunk.Address{X: 1, Y: -2, Z: 3}) {
		t.Fatalf("a=%v err=%v", a, err)
	}
	if _, err := parseAddr("1,2"); err == nil {
		t.Fatalf("short address should fail")
	}
}
