package chunk

// Topology decides which addresses exist. A neighbour that does not exist is
// a world boundary; callers treat it as empty exterior.
type Topology interface {
	Contains(a Address) bool
	Neighbor(a Address, dx, dy, dz int) (Address, bool)
}

// Flat is a single-face grid, optionally bounded.
type Flat struct {
	// BoundaryR bounds |X| and |Z| in chunks. Zero means unbounded.
	BoundaryR int

	// When VerticalLimit is set, Y must lie in [MinY, MaxY].
	VerticalLimit bool
	MinY          int
	MaxY          int
}

func (f Flat) Contains(a Address) bool {
	if a.Face != 0 {
		return false
	}
	if f.BoundaryR > 0 {
		if a.X < -f.BoundaryR || a.X > f.BoundaryR || a.Z < -f.BoundaryR || a.Z > f.BoundaryR {
			return false
		}
	}
	if f.VerticalLimit && (a.Y < f.MinY || a.Y > f.MaxY) {
		return false
	}
	return true
}

func (f Flat) Neighbor(a Address, dx, dy, dz int) (Address, bool) {
	n := a.Offset(dx, dy, dz)
	if !f.Contains(n) {
		return Address{}, false
	}
	return n, true
}

// FaceNeighbor is Neighbor for one of the six directions.
func FaceNeighbor(t Topology, a Address, d Direction) (Address, bool) {
	dx, dy, dz := d.Offset()
	return t.Neighbor(a, dx, dy, dz)
}
