package gen

import (
	"testing"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/voxel"
)

func TestGenerateIsDeterministic(t *testing.T) {
	reg := voxel.DefaultRegistry()
	g1, err := New(DefaultConfig(42), reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g2, _ := New(DefaultConfig(42), reg)
	a := chunk.Address{X: 3, Y: 0, Z: -2}
	d1, _ := g1.Generate(a, 16)
	d2, _ := g2.Generate(a, 16)
	if d1.Digest() != d2.Digest() {
		t.Fatalf("same seed and address produced different data")
	}
	if d1.Version != 1 {
		t.Fatalf("fresh generation version=%d want 1", d1.Version)
	}
	g3, _ := New(DefaultConfig(43), reg)
	d3, _ := g3.Generate(a, 16)
	if d1.Digest() == d3.Digest() {
		t.Fatalf("different seeds should differ")
	}
}

func TestGenerateLayersStoneBelowAirAbove(t *testing.T) {
	reg := voxel.DefaultRegistry()
	cfg := DefaultConfig(7)
	cfg.BaseHeight, cfg.Amplitude, cfg.SeaLevel = 20, 0, 0
	cfg.TreePermille = 0
	g, _ := New(cfg, reg)

	low, _ := g.Generate(chunk.Address{Y: 0}, 8)
	high, _ := g.Generate(chunk.Address{Y: 3}, 8)
	air, _ := reg.ID("air")
	for _, b := range high.Blocks {
		if b != air {
			t.Fatalf("chunk above the surface should be air, got %d", b)
		}
	}
	for _, b := range low.Blocks {
		if !reg.Opaque(b) {
			t.Fatalf("chunk well below the surface should be solid, got %d", b)
		}
	}
}

func TestHelpers(t *testing.T) {
	if FloorDiv(-1, 16) != -1 || Mod(-1, 16) != 15 {
		t.Fatalf("floor div/mod mismatch")
	}
	if v := ValueNoise(1, 5, 5, 8); v < 0 || v > 1000 {
		t.Fatalf("noise out of range: %d", v)
	}
	if ScalePermille(500, 3000) != 1000 {
		t.Fatalf("scale should clamp")
	}
	if _, err := New(DefaultConfig(1), mustRegistry(t)); err == nil {
		t.Fatalf("expected missing block error")
	}
}

func mustRegistry(t *testing.T) *voxel.Registry {
	t.Helper()
	r, err := voxel.NewRegistry([]voxel.BlockDef{{Name: "air"}, {Name: "stone", Opaque: true}})
	if err != nil {
		t.Fatal(err)
	}
	return r
}
