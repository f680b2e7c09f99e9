package chunk

// Direction is one of the six face-adjacent directions.
type Direction uint8

const (
	East  Direction = iota // +X
	West                   // -X
	Up                     // +Y
	Down                   // -Y
	South                  // +Z
	North                  // -Z
)

// Directions lists the six faces in a fixed order.
var Directions = [6]Direction{East, West, Up, Down, South, North}

var dirOffsets = [6][3]int{
	East:  {1, 0, 0},
	West:  {-1, 0, 0},
	Up:    {0, 1, 0},
	Down:  {0, -1, 0},
	South: {0, 0, 1},
	North: {0, 0, -1},
}

var dirNames = [6]string{"east", "west", "up", "down", "south", "north"}

func (d Direction) Offset() (dx, dy, dz int) {
	o := dirOffsets[d]
	return o[0], o[1], o[2]
}

func (d Direction) Opposite() Direction { return d ^ 1 }

func (d Direction) String() string {
	if int(d) < len(dirNames) {
		return dirNames[d]
	}
	return "invalid"
}

// DirectionFromOffset maps a unit axis offset back to its direction.
func DirectionFromOffset(dx, dy, dz int) (Direction, bool) {
	for _, d := range Directions {
		o := dirOffsets[d]
		if o[0] == dx && o[1] == dy && o[2] == dz {
			return d, true
		}
	}
	return 0, false
}

// DirectionSet is a bitmask of directions.
type DirectionSet uint8

func (s DirectionSet) Has(d Direction) bool          { return s&(1<<d) != 0 }
func (s DirectionSet) With(d Direction) DirectionSet { return s | 1<<d }
func (s DirectionSet) Without(d Direction) DirectionSet {
	return s &^ (1 << d)
}
func (s DirectionSet) Empty() bool { return s == 0 }

func (s DirectionSet) Len() int {
	n := 0
	for v := s; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func (s DirectionSet) Slice() []Direction {
	out := make([]Direction, 0, s.Len())
	for _, d := range Directions {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Offsets26 lists every neighbour offset of the 3x3x3 block around a chunk,
// excluding the chunk itself. Faces come first, then edges, then corners.
var Offsets26 = buildOffsets26()

func buildOffsets26() [26][3]int {
	var out [26][3]int
	i := 0
	for axes := 1; axes <= 3; axes++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				for dx := -1; dx <= 1; dx++ {
					if abs(dx)+abs(dy)+abs(dz) != axes {
						continue
					}
					out[i] = [3]int{dx, dy, dz}
					i++
				}
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
