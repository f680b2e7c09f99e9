package chunk

import "fmt"

// Address identifies a chunk. Face selects the grid patch (always 0 on a flat
// world, 0..5 on a cube-sphere); X/Y/Z are chunk coordinates on that patch.
type Address struct {
	Face uint8
	X    int
	Y    int
	Z    int
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d,%d,%d", a.Face, a.X, a.Y, a.Z)
}

// Compare orders addresses by face, then Y, then Z, then X.
func (a Address) Compare(b Address) int {
	switch {
	case a.Face != b.Face:
		return cmpInt(int(a.Face), int(b.Face))
	case a.Y != b.Y:
		return cmpInt(a.Y, b.Y)
	case a.Z != b.Z:
		return cmpInt(a.Z, b.Z)
	default:
		return cmpInt(a.X, b.X)
	}
}

func (a Address) Less(b Address) bool { return a.Compare(b) < 0 }

func (a Address) Offset(dx, dy, dz int) Address {
	return Address{Face: a.Face, X: a.X + dx, Y: a.Y + dy, Z: a.Z + dz}
}

// DistSq is the squared chunk distance between two addresses on the same face.
func (a Address) DistSq(b Address) int {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
