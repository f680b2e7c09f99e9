package invalidate

import "voxelflow.ai/internal/chunk"

// EditFanout lists the chunks whose mesh depends on the voxel at local
// coordinate (x, y, z) of a: a itself first, then every face neighbour the
// voxel touches. With diagonal set, edge and corner neighbours sharing the
// voxel are included too. Neighbours outside topo are skipped.
func EditFanout(topo chunk.Topology, a chunk.Address, size, x, y, z int, diagonal bool) []chunk.Address {
	out := []chunk.Address{a}
	if size <= 0 {
		return out
	}
	local := [3]int{x, y, z}
	for _, off := range chunk.Offsets26 {
		axes := 0
		touches := true
		for i, d := range off {
			switch d {
			case -1:
				touches = touches && local[i] == 0
			case 1:
				touches = touches && local[i] == size-1
			default:
				continue
			}
			axes++
		}
		if !touches || (axes > 1 && !diagonal) {
			continue
		}
		if n, ok := topo.Neighbor(a, off[0], off[1], off[2]); ok {
			out = append(out, n)
		}
	}
	return out
}
