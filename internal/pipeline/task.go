package pipeline

import (
	"time"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/voxel"
)

type Kind uint8

const (
	KindGenerate Kind = iota + 1
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindGenerate:
		return "generate"
	case KindMesh:
		return "mesh"
	}
	return "unknown"
}

// Task is a self-contained unit of work. It holds owned copies only, so the
// orchestrator may keep mutating the world while a worker runs it.
type Task struct {
	ID      uint64
	Kind    Kind
	Addr    chunk.Address
	Version uint64
	Size    int

	// Neighborhood is set for KindMesh.
	Neighborhood *voxel.Neighborhood
}

// Result is tagged with the version its task was computed against.
type Result struct {
	TaskID  uint64
	Kind    Kind
	Addr    chunk.Address
	Version uint64

	// Data is set by generation. Loaded reports that it came from storage.
	Data   *voxel.Data
	Loaded bool
	// Mesh is set by meshing.
	Mesh *mesh.Data

	Err     error
	Elapsed time.Duration
}
