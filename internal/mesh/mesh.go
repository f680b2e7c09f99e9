// Package mesh is the reference mesher: one quad per visible block face,
// with a per-quad ambient occlusion level taken from the blocks around the
// face. It consults only the owned neighbourhood snapshot.
package mesh

import (
	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/voxel"
)

type Quad struct {
	X, Y, Z int
	Face    chunk.Direction
	Block   uint16
	// AO counts opaque blocks (0..8) ringing the cell in front of the face.
	AO uint8
}

type Data struct {
	Quads []Quad
}

func (d *Data) Faces() int {
	if d == nil {
		return 0
	}
	return len(d.Quads)
}

// Mesher turns a neighbourhood snapshot into mesh data. Implementations must
// be safe to call from several workers at once.
type Mesher interface {
	Mesh(nb *voxel.Neighborhood) (*Data, error)
}

// Culling hides faces that touch an opaque block. Faces on the world boundary
// mesh against empty exterior.
type Culling struct {
	Registry *voxel.Registry
}

func (c Culling) Mesh(nb *voxel.Neighborhood) (*Data, error) {
	center := nb.Center
	size := center.Size
	out := &Data{}
	for y := 0; y < size; y++ {
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				b := center.Get(x, y, z)
				if b == 0 {
					continue
				}
				for _, d := range chunk.Directions {
					dx, dy, dz := d.Offset()
					nx, ny, nz := x+dx, y+dy, z+dz
					if c.solid(nb, nx, ny, nz) {
						continue
					}
					out.Quads = append(out.Quads, Quad{
						X: x, Y: y, Z: z,
						Face:  d,
						Block: b,
						AO:    c.occlusion(nb, nx, ny, nz, dx, dy, dz),
					})
				}
			}
		}
	}
	return out, nil
}

func (c Culling) solid(nb *voxel.Neighborhood, x, y, z int) bool {
	v, ok := nb.At(x, y, z)
	if !ok {
		return false
	}
	return c.Registry.Opaque(v)
}

// occlusion scans the 8 cells around (x,y,z) in the plane perpendicular to
// the face normal. Lookups may land in edge and corner slices.
func (c Culling) occlusion(nb *voxel.Neighborhood, x, y, z, dx, dy, dz int) uint8 {
	var n uint8
	for a := -1; a <= 1; a++ {
		for b := -1; b <= 1; b++ {
			if a == 0 && b == 0 {
				continue
			}
			var ox, oy, oz int
			switch {
			case dx != 0:
				oy, oz = a, b
			case dy != 0:
				ox, oz = a, b
			default:
				ox, oy = a, b
			}
			if c.solid(nb, x+ox, y+oy, z+oz) {
				n++
			}
		}
	}
	return n
}
