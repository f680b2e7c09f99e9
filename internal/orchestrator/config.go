package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"voxelflow.ai/internal/budget"
	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/pipeline"
)

// Renderer receives finished meshes. Upload must not block; done may be
// called from any goroutine, once, when the GPU-side resource is live.
type Renderer interface {
	Upload(a chunk.Address, version uint64, m *mesh.Data, done func())
	Release(a chunk.Address)
}

// EventSink receives lifecycle events. *journal.Journal implements it.
type EventSink interface {
	Record(ev journal.Event) error
}

// Failure is a chunk that could not be brought up after all retries.
type Failure struct {
	Addr     chunk.Address
	Kind     pipeline.Kind
	Attempts int
	Err      error
}

type Config struct {
	ChunkSize int
	Topology  chunk.Topology
	Pool      *pipeline.Pool
	// Saver persists dirty chunks on unload. Nil disables persistence and
	// dirty chunks are dropped.
	Saver    *chunkstore.Saver
	Renderer Renderer

	GenerationBudget time.Duration
	MeshingBudget    time.Duration
	EmergencyFactor  int
	// AnyVisible reports whether work of a category is on screen. Nil means
	// visible as soon as any chunk is Active.
	AnyVisible func(c budget.Category) bool

	MaxTaskRetries       int
	DiagonalInvalidation bool
	// SaveRetryTicks is the wait before a failed save is resubmitted.
	SaveRetryTicks uint64
	// FailureCooldownTicks keeps a failed address from being re-enqueued.
	FailureCooldownTicks uint64
	InboxSize            int

	// Clock meters main-thread cost. Defaults to time.Now.
	Clock    func() time.Time
	Logger   *log.Logger
	Events   EventSink
	OnFailed func(f Failure)
}

// InstantRenderer completes every upload immediately. Headless processes
// use it so chunks still reach Active.
type InstantRenderer struct {
	uploads  atomic.Uint64
	releases atomic.Uint64
	faces    atomic.Int64
}

func (r *InstantRenderer) Upload(_ chunk.Address, _ uint64, m *mesh.Data, done func()) {
	r.uploads.Add(1)
	r.faces.Add(int64(m.Faces()))
	done()
}

func (r *InstantRenderer) Release(chunk.Address) { r.releases.Add(1) }

func (r *InstantRenderer) Uploads() uint64 { return r.uploads.Load() }
