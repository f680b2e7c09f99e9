// Package streaming decides which chunks should be resident around a set of
// viewers. It only produces load and unload lists; the orchestrator acts on
// them.
package streaming

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"voxelflow.ai/internal/chunk"
)

// Want is a chunk to load. Dist is the distance in chunks from the chunk
// centre to the nearest viewer; smaller loads first.
type Want struct {
	Addr chunk.Address
	Dist float64
}

// RadiusPolicy loads every chunk whose centre lies within LoadRadius chunks
// of a viewer and unloads loaded chunks beyond UnloadRadius of all viewers.
// The gap between the radii keeps chunks at the edge from flapping.
type RadiusPolicy struct {
	ChunkSize    int
	LoadRadius   int
	UnloadRadius int
	Topology     chunk.Topology
}

// ViewerChunk is the chunk containing the world-space position pos.
func (p RadiusPolicy) ViewerChunk(pos mgl64.Vec3) chunk.Address {
	s := float64(p.ChunkSize)
	return chunk.Address{
		X: int(math.Floor(pos.X() / s)),
		Y: int(math.Floor(pos.Y() / s)),
		Z: int(math.Floor(pos.Z() / s)),
	}
}

func (p RadiusPolicy) center(a chunk.Address) mgl64.Vec3 {
	s := float64(p.ChunkSize)
	return mgl64.Vec3{(float64(a.X) + 0.5) * s, (float64(a.Y) + 0.5) * s, (float64(a.Z) + 0.5) * s}
}

// Distance is the distance in chunks from a to the nearest viewer, or +Inf
// with no viewers.
func (p RadiusPolicy) Distance(a chunk.Address, viewers []mgl64.Vec3) float64 {
	best := math.Inf(1)
	c := p.center(a)
	for _, v := range viewers {
		if d := c.Sub(v).Len() / float64(p.ChunkSize); d < best {
			best = d
		}
	}
	return best
}

// Wanted lists every chunk inside the load radius of any viewer, nearest
// first. Ties break on address order so the list is deterministic.
func (p RadiusPolicy) Wanted(viewers []mgl64.Vec3) []Want {
	seen := map[chunk.Address]struct{}{}
	var out []Want
	r := p.LoadRadius
	for _, v := range viewers {
		vc := p.ViewerChunk(v)
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				for dx := -r; dx <= r; dx++ {
					a := vc.Offset(dx, dy, dz)
					if _, ok := seen[a]; ok {
						continue
					}
					if p.Topology != nil && !p.Topology.Contains(a) {
						continue
					}
					d := p.Distance(a, viewers)
					if d > float64(r)+0.5 {
						continue
					}
					seen[a] = struct{}{}
					out = append(out, Want{Addr: a, Dist: d})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dist != out[j].Dist {
			return out[i].Dist < out[j].Dist
		}
		return out[i].Addr.Less(out[j].Addr)
	})
	return out
}

// Plan diffs the wanted set against loaded. load holds wanted chunks not yet
// loaded, nearest first; unload holds loaded chunks past the unload radius of
// every viewer, in address order.
func (p RadiusPolicy) Plan(viewers []mgl64.Vec3, loaded []chunk.Address) (load []Want, unload []chunk.Address) {
	have := make(map[chunk.Address]struct{}, len(loaded))
	for _, a := range loaded {
		have[a] = struct{}{}
		if p.Distance(a, viewers) > float64(p.UnloadRadius)+0.5 {
			unload = append(unload, a)
		}
	}
	for _, w := range p.Wanted(viewers) {
		if _, ok := have[w.Addr]; !ok {
			load = append(load, w)
		}
	}
	sort.Slice(unload, func(i, j int) bool { return unload[i].Less(unload[j]) })
	return load, unload
}
