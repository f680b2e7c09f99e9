// Package gen is the reference terrain generator. Output is a pure function
// of the chunk address and the world seed, so it can run on any worker.
package gen

import (
	"fmt"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/voxel"
)

type Biome uint8

const (
	Plains Biome = iota
	Forest
	Desert
)

func (b Biome) String() string {
	switch b {
	case Forest:
		return "FOREST"
	case Desert:
		return "DESERT"
	}
	return "PLAINS"
}

func BiomeFrom(noise uint64) Biome {
	return Biome(noise % 3)
}

func BiomeAt(seed int64, x, z, regionSize int) Biome {
	if regionSize <= 0 {
		regionSize = 1
	}
	return BiomeFrom(Hash2(seed, FloorDiv(x, regionSize), FloorDiv(z, regionSize)))
}

func ScalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}

// InCluster reports whether (x,z) falls inside one of the round clusters
// seeded on a grid of the given spacing.
func InCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := FloorDiv(x, grid)
	gz := FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := Hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}
			ox := int((h >> 10) % uint64(grid))
			oz := int((h >> 20) % uint64(grid))
			cx := cgx*grid + ox
			cz := cgz*grid + oz
			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}

type Config struct {
	Seed int64

	BiomeRegionSize int
	// Surface height in blocks is BaseHeight + noise*Amplitude/1000.
	BaseHeight int
	Amplitude  int
	NoiseCell  int
	SeaLevel   int

	OreClusterProbScalePermille int
	TreePermille                int
}

func DefaultConfig(seed int64) Config {
	return Config{
		Seed:                        seed,
		BiomeRegionSize:             64,
		BaseHeight:                  8,
		Amplitude:                   24,
		NoiseCell:                   24,
		SeaLevel:                    12,
		OreClusterProbScalePermille: 1000,
		TreePermille:                12,
	}
}

type palette struct {
	air, dirt, grass, sand, stone, gravel, log, coal, iron, water uint16
}

// Generator builds chunk voxel data from the world seed.
type Generator struct {
	cfg Config
	pal palette
}

func New(cfg Config, reg *voxel.Registry) (*Generator, error) {
	var pal palette
	for name, dst := range map[string]*uint16{
		"air": &pal.air, "dirt": &pal.dirt, "grass": &pal.grass, "sand": &pal.sand,
		"stone": &pal.stone, "gravel": &pal.gravel, "log": &pal.log,
		"coal_ore": &pal.coal, "iron_ore": &pal.iron, "water": &pal.water,
	} {
		id, ok := reg.ID(name)
		if !ok {
			return nil, fmt.Errorf("gen: registry has no %q block", name)
		}
		*dst = id
	}
	return &Generator{cfg: cfg, pal: pal}, nil
}

// SurfaceAt is the world-space height of the topmost solid block.
func (g *Generator) SurfaceAt(x, z int) int {
	n := ValueNoise(g.cfg.Seed, x, z, g.cfg.NoiseCell)
	return g.cfg.BaseHeight + n*g.cfg.Amplitude/1000
}

func (g *Generator) Generate(a chunk.Address, size int) (*voxel.Data, error) {
	if size <= 0 {
		return nil, fmt.Errorf("gen: invalid chunk size %d", size)
	}
	d := voxel.New(size)
	ores := g.cfg.OreClusterProbScalePermille
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			wx := a.X*size + x
			wz := a.Z*size + z
			h := g.SurfaceAt(wx, wz)
			biome := BiomeAt(g.cfg.Seed, wx, wz, g.cfg.BiomeRegionSize)
			tree := biome == Forest && h >= g.cfg.SeaLevel &&
				int(Hash2(g.cfg.Seed+999, wx, wz)%1000) < g.cfg.TreePermille
			for y := 0; y < size; y++ {
				wy := a.Y*size + y
				var b uint16
				switch {
				case wy < h-3:
					b = g.pal.stone
					switch {
					case InCluster(g.cfg.Seed+102+int64(wy), wx, wz, 32, 2, ScalePermille(300, ores)):
						b = g.pal.iron
					case InCluster(g.cfg.Seed+104+int64(wy), wx, wz, 24, 2, ScalePermille(450, ores)):
						b = g.pal.coal
					case Hash3(g.cfg.Seed+303, wx, wy, wz)%1000 < 15:
						b = g.pal.gravel
					}
				case wy < h:
					b = g.pal.dirt
					if biome == Desert {
						b = g.pal.sand
					}
				case wy == h:
					switch {
					case biome == Desert || h < g.cfg.SeaLevel:
						b = g.pal.sand
					default:
						b = g.pal.grass
					}
				case tree && wy <= h+4:
					b = g.pal.log
				case wy <= g.cfg.SeaLevel:
					b = g.pal.water
				default:
					b = g.pal.air
				}
				d.Blocks[x+z*size+y*size*size] = b
			}
		}
	}
	d.Version = 1
	return d, nil
}
