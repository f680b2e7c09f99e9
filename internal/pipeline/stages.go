package pipeline

import (
	"context"
	"fmt"
	"time"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/voxel"
)

// Runner executes one task. It is called concurrently from every worker.
type Runner interface {
	Run(t Task) Result
}

type Generator interface {
	Generate(a chunk.Address, size int) (*voxel.Data, error)
}

// Loader returns saved chunk bytes; ok is false when nothing is stored.
type Loader interface {
	Load(ctx context.Context, a chunk.Address) (b []byte, ok bool, err error)
}

// Stages is the default Runner. Generation prefers saved data over running
// the generator.
type Stages struct {
	Generator   Generator
	Mesher      mesh.Mesher
	Loader      Loader
	LoadTimeout time.Duration
}

func (s Stages) Run(t Task) Result {
	res := Result{TaskID: t.ID, Kind: t.Kind, Addr: t.Addr, Version: t.Version}
	switch t.Kind {
	case KindGenerate:
		res.Data, res.Loaded, res.Err = s.generate(t)
	case KindMesh:
		if t.Neighborhood == nil || t.Neighborhood.Center == nil {
			res.Err = fmt.Errorf("pipeline: mesh task %d has no snapshot", t.ID)
			break
		}
		res.Mesh, res.Err = s.Mesher.Mesh(t.Neighborhood)
	default:
		res.Err = fmt.Errorf("pipeline: unknown task kind %d", t.Kind)
	}
	return res
}

func (s Stages) generate(t Task) (*voxel.Data, bool, error) {
	if s.Loader != nil {
		timeout := s.LoadTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		b, ok, err := s.Loader.Load(ctx, t.Addr)
		cancel()
		if err != nil {
			return nil, false, fmt.Errorf("load %s: %w", t.Addr, err)
		}
		if ok {
			d, err := voxel.Decode(b)
			if err != nil {
				return nil, false, fmt.Errorf("load %s: %w", t.Addr, err)
			}
			if d.Size != t.Size {
				return nil, false, fmt.Errorf("load %s: %w: size %d want %d", t.Addr, voxel.ErrMalformed, d.Size, t.Size)
			}
			if d.Version == 0 {
				d.Version = 1
			}
			return d, true, nil
		}
	}
	d, err := s.Generator.Generate(t.Addr, t.Size)
	if err != nil {
		return nil, false, err
	}
	if d.Version == 0 {
		d.Version = 1
	}
	return d, false, nil
}
