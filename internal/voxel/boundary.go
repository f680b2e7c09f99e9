package voxel

// Slice is the part of a neighbouring chunk that touches the centre chunk.
// For a neighbour at offset (dx,dy,dz) every axis with a non-zero offset is
// pinned to the layer adjacent to the centre; the remaining axes are kept in
// full. A face slice is Size^2 voxels, an edge Size, a corner one.
type Slice struct {
	Offset [3]int
	Size   int
	Blocks []uint16
}

// ExtractSlice copies the boundary of n that faces a centre chunk located at
// -offset from n.
func ExtractSlice(n *Data, dx, dy, dz int) *Slice {
	off := [3]int{dx, dy, dz}
	s := &Slice{Offset: off, Size: n.Size}
	var lo, hi [3]int
	count := 1
	for i, d := range off {
		switch {
		case d > 0:
			lo[i], hi[i] = 0, 0
		case d < 0:
			lo[i], hi[i] = n.Size-1, n.Size-1
		default:
			lo[i], hi[i] = 0, n.Size-1
			count *= n.Size
		}
	}
	s.Blocks = make([]uint16, count)
	for y := lo[1]; y <= hi[1]; y++ {
		for z := lo[2]; z <= hi[2]; z++ {
			for x := lo[0]; x <= hi[0]; x++ {
				s.Blocks[s.index(x, y, z)] = n.Get(x, y, z)
			}
		}
	}
	return s
}

func (s *Slice) index(x, y, z int) int {
	idx, stride := 0, 1
	for i, c := range [3]int{x, y, z} {
		if s.Offset[i] != 0 {
			continue
		}
		idx += c * stride
		stride *= s.Size
	}
	return idx
}

// at looks up the voxel at neighbour-local coordinates; pinned axes are ignored.
func (s *Slice) at(x, y, z int) uint16 {
	return s.Blocks[s.index(x, y, z)]
}

// Neighborhood is an owned snapshot of a chunk plus the boundary slices of
// up to 26 neighbours. Missing slices are world boundary (empty exterior).
type Neighborhood struct {
	Center *Data
	slices [27]*Slice
}

func NewNeighborhood(center *Data) *Neighborhood {
	return &Neighborhood{Center: center}
}

func sliceIndex(dx, dy, dz int) int {
	return (dx + 1) + (dy+1)*3 + (dz+1)*9
}

func (n *Neighborhood) SetSlice(s *Slice) {
	n.slices[sliceIndex(s.Offset[0], s.Offset[1], s.Offset[2])] = s
}

func (n *Neighborhood) Slice(dx, dy, dz int) *Slice {
	return n.slices[sliceIndex(dx, dy, dz)]
}

// SliceCount reports how many neighbour slices are present.
func (n *Neighborhood) SliceCount() int {
	c := 0
	for _, s := range n.slices {
		if s != nil {
			c++
		}
	}
	return c
}

// At resolves centre-local coordinates in [-1, Size] on each axis. The bool
// is false when the voxel lies in a neighbour that is not part of the
// snapshot.
func (n *Neighborhood) At(x, y, z int) (uint16, bool) {
	size := n.Center.Size
	c := [3]int{x, y, z}
	var off [3]int
	for i, v := range c {
		switch {
		case v < 0:
			off[i] = -1
			c[i] = v + size
		case v >= size:
			off[i] = 1
			c[i] = v - size
		}
	}
	if off == ([3]int{}) {
		return n.Center.Get(x, y, z), true
	}
	s := n.slices[sliceIndex(off[0], off[1], off[2])]
	if s == nil {
		return 0, false
	}
	return s.at(c[0], c[1], c[2]), true
}
