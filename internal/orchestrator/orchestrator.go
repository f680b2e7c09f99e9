// Package orchestrator runs the per-tick chunk lifecycle. It is the only
// owner of chunk state, versions and voxel data; workers, savers and
// network goroutines talk to it through queues.
package orchestrator

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"voxelflow.ai/internal/budget"
	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/depwait"
	"voxelflow.ai/internal/invalidate"
	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/pipeline"
	"voxelflow.ai/internal/voxel"
)

// record is everything the orchestrator knows about one loaded address.
type record struct {
	addr     chunk.Address
	m        lifecycle.Machine
	data     *voxel.Data
	mesh     *mesh.Data
	priority float64
	retries  int

	genQueued  bool
	meshQueued bool
	// task is the id of the worker task in flight for this chunk, 0 if none.
	task uint64

	// remesh is set by a dirty mark while Meshed; upload completion then
	// goes straight back to Meshing.
	remesh bool
	// unloadAfterUpload defers an unload requested while Meshed.
	unloadAfterUpload bool
	uploaded          bool
	uploadVersion     uint64

	saving       bool
	nextSaveTick uint64
}

type upload struct {
	addr    chunk.Address
	version uint64
}

type Orchestrator struct {
	size     int
	topo     chunk.Topology
	pool     *pipeline.Pool
	saver    *chunkstore.Saver
	renderer Renderer
	ledger   *budget.Ledger
	visible  func(budget.Category) bool

	maxRetries int
	diagonal   bool
	saveRetry  uint64
	cooldown   uint64
	clock      func() time.Time
	logger     *log.Logger
	events     EventSink
	onFailed   func(Failure)

	records  map[chunk.Address]*record
	resolver *depwait.Resolver
	versions *invalidate.Tracker
	genQ     priorityQueue
	meshQ    priorityQueue
	failedAt map[chunk.Address]uint64
	failed   []Failure

	tick     uint64
	nextTask uint64

	// share is the number of pool slots each task kind is guaranteed.
	share        int
	genInFlight  int
	meshInFlight int

	uploadsMu sync.Mutex
	uploads   []upload

	edits     chan editRequest
	snapshots chan snapshotRequest

	counters counters
	stats    atomic.Pointer[Stats]
}

type counters struct {
	accepted           uint64
	stale              uint64
	genFailures        uint64
	meshFailures       uint64
	failedChunks       uint64
	editsApplied       uint64
	editsRejected      uint64
	savesOK            uint64
	savesFailed        uint64
	dropped            uint64
	invalidTransitions uint64
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > voxel.MaxSize {
		return nil, fmt.Errorf("orchestrator: chunk size %d", cfg.ChunkSize)
	}
	if cfg.Pool == nil {
		return nil, errors.New("orchestrator: no worker pool")
	}
	if cfg.Topology == nil {
		cfg.Topology = chunk.Flat{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = &InstantRenderer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.SaveRetryTicks == 0 {
		cfg.SaveRetryTicks = 20
	}
	if cfg.FailureCooldownTicks == 0 {
		cfg.FailureCooldownTicks = 200
	}
	if cfg.GenerationBudget <= 0 {
		cfg.GenerationBudget = 4 * time.Millisecond
	}
	if cfg.MeshingBudget <= 0 {
		cfg.MeshingBudget = 4 * time.Millisecond
	}
	if cfg.MaxTaskRetries < 0 {
		cfg.MaxTaskRetries = 0
	}
	o := &Orchestrator{
		size:       cfg.ChunkSize,
		topo:       cfg.Topology,
		pool:       cfg.Pool,
		saver:      cfg.Saver,
		renderer:   cfg.Renderer,
		ledger:     budget.NewLedger(cfg.GenerationBudget, cfg.MeshingBudget, cfg.EmergencyFactor),
		visible:    cfg.AnyVisible,
		maxRetries: cfg.MaxTaskRetries,
		diagonal:   cfg.DiagonalInvalidation,
		saveRetry:  cfg.SaveRetryTicks,
		cooldown:   cfg.FailureCooldownTicks,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		events:     cfg.Events,
		onFailed:   cfg.OnFailed,
		share:      max(1, cfg.Pool.MaxInFlight()/2),
		records:    map[chunk.Address]*record{},
		failedAt:   map[chunk.Address]uint64{},
		edits:      make(chan editRequest, cfg.InboxSize),
		snapshots:  make(chan snapshotRequest, cfg.InboxSize),
	}
	o.resolver = depwait.NewResolver(cfg.Topology, resolverView{o})
	o.versions = invalidate.NewTracker(o)
	return o, nil
}

// resolverView hides Unloading chunks from the resolver: they will never
// become ready, so neighbours treat them as boundary.
type resolverView struct{ o *Orchestrator }

func (v resolverView) StateOf(a chunk.Address) (lifecycle.State, bool) {
	s, ok := v.o.StateOf(a)
	if !ok || s == lifecycle.Unloading {
		return 0, false
	}
	return s, true
}

// StateOf reports the recorded state of a. ok is false when a is not loaded.
func (o *Orchestrator) StateOf(a chunk.Address) (lifecycle.State, bool) {
	r, ok := o.records[a]
	if !ok {
		return lifecycle.Unloaded, false
	}
	return r.m.State(), true
}

// Version is the current data version of a, if it has data.
func (o *Orchestrator) Version(a chunk.Address) (uint64, bool) { return o.versions.Version(a) }

// Remesh sends an Active chunk back to Meshing and queues a fresh mesh task.
// The invalidation tracker calls it after a dirty mark.
func (o *Orchestrator) Remesh(a chunk.Address) {
	r, ok := o.records[a]
	if !ok {
		return
	}
	if err := o.to(r, lifecycle.Meshing); err != nil {
		return
	}
	o.queueMesh(r)
}

// Loaded lists every address with a record, in address order.
func (o *Orchestrator) Loaded() []chunk.Address {
	out := make([]chunk.Address, 0, len(o.records))
	for a := range o.records {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Enqueue asks for a to be loaded. Lower priority loads first. It returns
// false when a is outside the topology, already loaded, or cooling down
// after a failure.
func (o *Orchestrator) Enqueue(a chunk.Address, priority float64) bool {
	if !o.topo.Contains(a) {
		return false
	}
	if _, ok := o.records[a]; ok {
		return false
	}
	if until, ok := o.failedAt[a]; ok {
		if o.tick < until {
			return false
		}
		delete(o.failedAt, a)
	}
	r := &record{addr: a, priority: priority}
	o.records[a] = r
	if err := o.to(r, lifecycle.Scheduled); err != nil {
		delete(o.records, a)
		return false
	}
	o.queueGen(r)
	return true
}

// Unload asks for a to leave the world. Dirty chunks are saved first.
func (o *Orchestrator) Unload(a chunk.Address) {
	r, ok := o.records[a]
	if !ok {
		return
	}
	switch r.m.State() {
	case lifecycle.Scheduled, lifecycle.Generating:
		// Queue entries and in-flight results are invalidated by the
		// missing record.
		_ = o.to(r, lifecycle.Unloaded)
		o.remove(r)
	case lifecycle.Generated, lifecycle.Meshing, lifecycle.Active:
		o.beginUnloading(r)
	case lifecycle.Meshed:
		r.unloadAfterUpload = true
	}
}

func (o *Orchestrator) beginUnloading(r *record) {
	if err := o.to(r, lifecycle.Unloading); err != nil {
		return
	}
	r.meshQueued = false
	r.task = 0
	if r.uploaded {
		o.renderer.Release(r.addr)
		r.uploaded = false
	}
	o.release(r.addr)
}

// release drops a from the resolver; chunks waiting on it treat it as
// boundary from now on.
func (o *Orchestrator) release(a chunk.Address) {
	for _, w := range o.resolver.Forget(a) {
		if wr, ok := o.records[w]; ok && wr.m.State() == lifecycle.Generated {
			o.queueMesh(wr)
		}
	}
}

// remove deletes a record that has reached Unloaded.
func (o *Orchestrator) remove(r *record) {
	delete(o.records, r.addr)
	o.versions.Forget(r.addr)
	o.release(r.addr)
	if r.uploaded {
		o.renderer.Release(r.addr)
	}
}

func (o *Orchestrator) queueGen(r *record) {
	if r.genQueued {
		return
	}
	r.genQueued = true
	o.genQ.push(r.addr, r.priority)
}

func (o *Orchestrator) queueMesh(r *record) {
	if r.meshQueued {
		return
	}
	r.meshQueued = true
	o.meshQ.push(r.addr, r.priority)
}

// to applies a transition and journals it. An invalid transition is a bug;
// it is logged and counted, and the state is left as it was.
func (o *Orchestrator) to(r *record, target lifecycle.State) error {
	from := r.m.State()
	if _, err := r.m.To(target); err != nil {
		o.counters.invalidTransitions++
		o.printf("orchestrator invalid transition addr=%s err=%v", r.addr, err)
		return err
	}
	if o.events != nil {
		v, _ := o.versions.Version(r.addr)
		_ = o.events.Record(journal.Event{
			Tick:    o.tick,
			Kind:    journal.KindTransition,
			Addr:    r.addr.String(),
			From:    from.String(),
			To:      target.String(),
			Version: v,
		})
	}
	return nil
}

// uploadDone is the renderer's completion signal. Safe from any goroutine.
func (o *Orchestrator) uploadDone(a chunk.Address, version uint64) {
	o.uploadsMu.Lock()
	o.uploads = append(o.uploads, upload{addr: a, version: version})
	o.uploadsMu.Unlock()
}

// Tick runs one orchestration step: completions and results first, then
// edits, saves, and finally budgeted admission of new work.
func (o *Orchestrator) Tick() {
	o.tick++
	o.applyUploads()
	o.applyResults()
	o.serveInbox()
	o.applySaves()

	o.ledger.BeginTick(o.anyVisible)
	o.admitGeneration()
	o.admitMeshing()
	o.submitSaves()
	o.publish()
}

func (o *Orchestrator) anyVisible(c budget.Category) bool {
	if o.visible != nil {
		return o.visible(c)
	}
	for _, r := range o.records {
		if r.m.State() == lifecycle.Active {
			return true
		}
	}
	return false
}

func (o *Orchestrator) applyUploads() {
	o.uploadsMu.Lock()
	done := o.uploads
	o.uploads = nil
	o.uploadsMu.Unlock()
	for _, u := range done {
		r, ok := o.records[u.addr]
		if !ok || r.m.State() != lifecycle.Meshed || r.uploadVersion != u.version {
			continue
		}
		if err := o.to(r, lifecycle.Active); err != nil {
			continue
		}
		r.uploaded = true
		switch {
		case r.unloadAfterUpload:
			r.unloadAfterUpload = false
			o.beginUnloading(r)
		case r.remesh:
			r.remesh = false
			if o.to(r, lifecycle.Meshing) == nil {
				o.queueMesh(r)
			}
		}
	}
}

func (o *Orchestrator) applyResults() {
	for _, res := range o.pool.DrainResults() {
		if res.Kind == pipeline.KindMesh {
			o.meshInFlight--
		} else {
			o.genInFlight--
		}
		r, ok := o.records[res.Addr]
		if !ok || r.task != res.TaskID {
			o.counters.stale++
			continue
		}
		r.task = 0
		switch res.Kind {
		case pipeline.KindGenerate:
			o.applyGenerated(r, res)
		case pipeline.KindMesh:
			o.applyMeshed(r, res)
		}
	}
}

func (o *Orchestrator) applyGenerated(r *record, res pipeline.Result) {
	if r.m.State() != lifecycle.Generating {
		o.counters.stale++
		return
	}
	if res.Err != nil {
		o.counters.genFailures++
		o.generationFailed(r, res.Err)
		return
	}
	o.counters.accepted++
	r.retries = 0
	r.data = res.Data
	o.versions.Set(r.addr, res.Data.Version)
	r.data.Version, _ = o.versions.Version(r.addr)
	if o.to(r, lifecycle.Generated) != nil {
		return
	}

	for _, w := range o.resolver.NotifyReady(r.addr) {
		if wr, ok := o.records[w]; ok && wr.m.State() == lifecycle.Generated {
			o.queueMesh(wr)
		}
	}
	// Neighbours that meshed against empty exterior on our side are stale.
	for _, off := range chunk.Offsets26 {
		if !o.diagonal && abs(off[0])+abs(off[1])+abs(off[2]) > 1 {
			continue
		}
		n, ok := o.topo.Neighbor(r.addr, off[0], off[1], off[2])
		if !ok {
			continue
		}
		if nr, ok := o.records[n]; ok {
			switch nr.m.State() {
			case lifecycle.Meshing, lifecycle.Meshed, lifecycle.Active:
				o.remeshStale(nr)
			}
		}
	}
	if o.resolver.Register(r.addr) {
		o.queueMesh(r)
	}
}

func (o *Orchestrator) generationFailed(r *record, err error) {
	r.retries++
	o.journalFailure(r, err)
	if r.retries <= o.maxRetries {
		o.printf("orchestrator generation retry addr=%s attempt=%d err=%v", r.addr, r.retries, err)
		if o.to(r, lifecycle.Unloaded) == nil && o.to(r, lifecycle.Scheduled) == nil {
			o.queueGen(r)
		}
		return
	}
	_ = o.to(r, lifecycle.Unloaded)
	o.remove(r)
	o.fail(r, pipeline.KindGenerate, err)
}

func (o *Orchestrator) applyMeshed(r *record, res pipeline.Result) {
	if r.m.State() != lifecycle.Meshing || !o.versions.Accept(r.addr, res.Version) {
		o.counters.stale++
		if r.m.State() == lifecycle.Meshing {
			o.queueMesh(r)
		}
		return
	}
	if res.Err != nil {
		o.counters.meshFailures++
		r.retries++
		o.journalFailure(r, res.Err)
		if r.retries <= o.maxRetries {
			o.printf("orchestrator mesh retry addr=%s attempt=%d err=%v", r.addr, r.retries, res.Err)
			o.queueMesh(r)
			return
		}
		o.beginUnloading(r)
		o.fail(r, pipeline.KindMesh, res.Err)
		return
	}
	o.counters.accepted++
	r.retries = 0
	r.mesh = res.Mesh
	if o.to(r, lifecycle.Meshed) != nil {
		return
	}
	r.uploadVersion = res.Version
	addr, v := r.addr, res.Version
	o.renderer.Upload(addr, v, res.Mesh, func() { o.uploadDone(addr, v) })
}

func (o *Orchestrator) fail(r *record, kind pipeline.Kind, err error) {
	o.counters.failedChunks++
	o.failedAt[r.addr] = o.tick + o.cooldown
	f := Failure{Addr: r.addr, Kind: kind, Attempts: r.retries, Err: err}
	o.failed = append(o.failed, f)
	o.printf("orchestrator chunk failed addr=%s kind=%s attempts=%d err=%v", r.addr, kind, r.retries, err)
	if o.onFailed != nil {
		o.onFailed(f)
	}
}

// Failed returns and clears the chunks that gave up since the last call.
func (o *Orchestrator) Failed() []Failure {
	out := o.failed
	o.failed = nil
	return out
}

func (o *Orchestrator) journalFailure(r *record, err error) {
	if o.events == nil {
		return
	}
	_ = o.events.Record(journal.Event{
		Tick:    o.tick,
		Kind:    journal.KindFailure,
		Addr:    r.addr.String(),
		To:      r.m.State().String(),
		Attempt: r.retries,
		Reason:  err.Error(),
	})
}

// markEdited records a mutation of r's voxels. Active chunks are remeshed
// through the tracker, a mesh in flight goes stale by version, and Meshed
// ones remesh once uploaded.
func (o *Orchestrator) markEdited(r *record) {
	state := r.m.State()
	v, ok := o.versions.MarkDirty(r.addr)
	if !ok {
		return
	}
	if r.data != nil {
		r.data.Version = v
	}
	if state == lifecycle.Meshed {
		r.remesh = true
	}
}

// remeshStale rebuilds r's mesh after a neighbour changed. r's voxels and
// version are untouched; a mesh in flight is dropped by task id instead.
func (o *Orchestrator) remeshStale(r *record) {
	switch r.m.State() {
	case lifecycle.Active:
		o.Remesh(r.addr)
	case lifecycle.Meshing:
		r.task = 0
		o.queueMesh(r)
	case lifecycle.Meshed:
		r.remesh = true
	}
}

// canAdmit reports whether a task of kind may take a pool slot. Each kind
// owns share slots and borrows beyond them only while the other kind has
// nothing queued.
func (o *Orchestrator) canAdmit(kind pipeline.Kind) bool {
	if o.pool.Full() {
		return false
	}
	if kind == pipeline.KindMesh {
		return o.meshInFlight < o.share || o.genQ.len() == 0
	}
	return o.genInFlight < o.share || o.meshQ.len() == 0
}

func (o *Orchestrator) admitGeneration() {
	t := o.ledger.Tracker(budget.Generation)
	for t.HasCapacity() && o.canAdmit(pipeline.KindGenerate) {
		it, ok := o.genQ.peek()
		if !ok {
			return
		}
		o.genQ.pop()
		r, ok := o.records[it.addr]
		if !ok || !r.genQueued || r.m.State() != lifecycle.Scheduled {
			continue
		}
		start := o.clock()
		r.genQueued = false
		if o.to(r, lifecycle.Generating) != nil {
			continue
		}
		o.nextTask++
		task := pipeline.Task{ID: o.nextTask, Kind: pipeline.KindGenerate, Addr: r.addr, Size: o.size}
		if !o.pool.Submit(task) {
			// Closed pool; back to the queue through the legal path.
			if o.to(r, lifecycle.Unloaded) == nil && o.to(r, lifecycle.Scheduled) == nil {
				o.queueGen(r)
			}
			return
		}
		r.task = task.ID
		o.genInFlight++
		t.Charge(o.clock().Sub(start))
	}
}

func (o *Orchestrator) admitMeshing() {
	t := o.ledger.Tracker(budget.Meshing)
	for t.HasCapacity() && o.canAdmit(pipeline.KindMesh) {
		it, ok := o.meshQ.peek()
		if !ok {
			return
		}
		o.meshQ.pop()
		r, ok := o.records[it.addr]
		if !ok || !r.meshQueued || r.task != 0 {
			continue
		}
		switch r.m.State() {
		case lifecycle.Generated:
			if o.resolver.IsWaiting(r.addr) {
				r.meshQueued = false
				continue
			}
		case lifecycle.Meshing:
		default:
			r.meshQueued = false
			continue
		}
		start := o.clock()
		r.meshQueued = false
		if r.m.State() == lifecycle.Generated && o.to(r, lifecycle.Meshing) != nil {
			continue
		}
		v, _ := o.versions.Version(r.addr)
		o.nextTask++
		task := pipeline.Task{
			ID:           o.nextTask,
			Kind:         pipeline.KindMesh,
			Addr:         r.addr,
			Version:      v,
			Size:         o.size,
			Neighborhood: o.snapshot(r, v),
		}
		if !o.pool.Submit(task) {
			o.queueMesh(r)
			return
		}
		r.task = task.ID
		o.meshInFlight++
		t.Charge(o.clock().Sub(start))
	}
}

// snapshot copies r's data and the boundary slices of every ready neighbour.
func (o *Orchestrator) snapshot(r *record, version uint64) *voxel.Neighborhood {
	center := r.data.Clone()
	center.Version = version
	nb := voxel.NewNeighborhood(center)
	for _, off := range chunk.Offsets26 {
		n, ok := o.topo.Neighbor(r.addr, off[0], off[1], off[2])
		if !ok {
			continue
		}
		nr, ok := o.records[n]
		if !ok || nr.data == nil || !nr.m.State().IsReady() {
			continue
		}
		nb.SetSlice(voxel.ExtractSlice(nr.data, off[0], off[1], off[2]))
	}
	return nb
}

func (o *Orchestrator) applySaves() {
	if o.saver == nil {
		return
	}
	for _, out := range o.saver.DrainResults() {
		r, ok := o.records[out.Addr]
		if !ok {
			continue
		}
		r.saving = false
		if out.Err != nil {
			o.counters.savesFailed++
			r.nextSaveTick = o.tick + o.saveRetry
			if o.events != nil {
				_ = o.events.Record(journal.Event{Tick: o.tick, Kind: journal.KindSave, Addr: out.Addr.String(), Version: out.Version, Attempt: out.Attempts, Reason: out.Err.Error()})
			}
			continue
		}
		o.counters.savesOK++
		o.versions.Saved(out.Addr, out.Version)
		if o.events != nil {
			_ = o.events.Record(journal.Event{Tick: o.tick, Kind: journal.KindSave, Addr: out.Addr.String(), Version: out.Version, Attempt: out.Attempts})
		}
	}
}

// submitSaves hands dirty Unloading chunks to the saver and retires clean
// ones.
func (o *Orchestrator) submitSaves() {
	var done []*record
	for _, r := range o.records {
		if r.m.State() != lifecycle.Unloading || r.saving {
			continue
		}
		if !o.versions.Unsaved(r.addr) || r.data == nil {
			done = append(done, r)
			continue
		}
		if o.saver == nil {
			o.counters.dropped++
			o.printf("orchestrator dropping unsaved chunk addr=%s reason=no_store", r.addr)
			done = append(done, r)
			continue
		}
		if o.tick < r.nextSaveTick {
			continue
		}
		v, _ := o.versions.Version(r.addr)
		r.data.Version = v
		if o.saver.Submit(chunkstore.Job{Addr: r.addr, Version: v, Bytes: voxel.Encode(r.data)}) {
			r.saving = true
		}
	}
	for _, r := range done {
		if o.to(r, lifecycle.Unloaded) == nil {
			o.remove(r)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (o *Orchestrator) printf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
