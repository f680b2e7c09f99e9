package mesh

import (
	"testing"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/voxel"
)

func stoneID(t *testing.T, r *voxel.Registry) uint16 {
	t.Helper()
	id, ok := r.ID("stone")
	if !ok {
		t.Fatalf("default registry has no stone")
	}
	return id
}

func TestSingleBlockHasSixFaces(t *testing.T) {
	reg := voxel.DefaultRegistry()
	d := voxel.New(4)
	d.Set(1, 1, 1, stoneID(t, reg))
	m, err := Culling{Registry: reg}.Mesh(voxel.NewNeighborhood(d))
	if err != nil {
		t.Fatalf("mesh: %v", err)
	}
	if m.Faces() != 6 {
		t.Fatalf("faces=%d want 6", m.Faces())
	}
}

func TestBoundaryFaceCulledByOpaqueNeighbor(t *testing.T) {
	reg := voxel.DefaultRegistry()
	stone := stoneID(t, reg)
	d := voxel.New(2)
	d.Set(1, 0, 0, stone)

	m, _ := Culling{Registry: reg}.Mesh(voxel.NewNeighborhood(d))
	if m.Faces() != 6 {
		t.Fatalf("without neighbour faces=%d want 6", m.Faces())
	}

	east := voxel.New(2)
	east.Set(0, 0, 0, stone)
	nb := voxel.NewNeighborhood(d)
	nb.SetSlice(voxel.ExtractSlice(east, 1, 0, 0))
	m, _ = Culling{Registry: reg}.Mesh(nb)
	if m.Faces() != 5 {
		t.Fatalf("with opaque east neighbour faces=%d want 5", m.Faces())
	}
	for _, q := range m.Quads {
		if q.Face == chunk.East {
			t.Fatalf("east face should be culled")
		}
	}
}

func TestTransparentNeighborKeepsFace(t *testing.T) {
	reg := voxel.DefaultRegistry()
	stone := stoneID(t, reg)
	glass, _ := reg.ID("glass")
	d := voxel.New(2)
	d.Set(0, 0, 0, stone)
	d.Set(1, 0, 0, glass)
	m, _ := Culling{Registry: reg}.Mesh(voxel.NewNeighborhood(d))
	// stone: 6 faces (glass is transparent); glass: 5 faces (stone hides its west face).
	if m.Faces() != 11 {
		t.Fatalf("faces=%d want 11", m.Faces())
	}
}

func TestOcclusionCountsRing(t *testing.T) {
	reg := voxel.DefaultRegistry()
	stone := stoneID(t, reg)
	d := voxel.New(3)
	d.Set(1, 0, 1, stone)
	d.Set(0, 1, 1, stone)
	d.Set(2, 1, 2, stone)
	m, _ := Culling{Registry: reg}.Mesh(voxel.NewNeighborhood(d))
	for _, q := range m.Quads {
		if q.X == 1 && q.Y == 0 && q.Z == 1 && q.Face == chunk.Up {
			if q.AO != 2 {
				t.Fatalf("up face AO=%d want 2", q.AO)
			}
			return
		}
	}
	t.Fatalf("up face of centre block not emitted")
}
