package orchestrator

import (
	"context"
	"fmt"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/invalidate"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

// The orchestrator serves ownership.World for network goroutines. Requests
// are queued and answered during the next Tick, so chunk state is never
// touched off the orchestrating goroutine.

type editResult struct {
	version uint64
	err     error
}

type editRequest struct {
	edit  ownership.Edit
	reply chan editResult
}

type snapshotResult struct {
	data *voxel.Data
	err  error
}

type snapshotRequest struct {
	addr  chunk.Address
	reply chan snapshotResult
}

var _ ownership.World = (*Orchestrator)(nil)

// Snapshot returns a copy of a's voxels once a has generated. It blocks
// until the next Tick serves it or ctx ends.
func (o *Orchestrator) Snapshot(ctx context.Context, a chunk.Address) (*voxel.Data, error) {
	req := snapshotRequest{addr: a, reply: make(chan snapshotResult, 1)}
	select {
	case o.snapshots <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, &ownership.EditError{Code: protocol.ErrUnavailable, Msg: "snapshot inbox full"}
	}
	select {
	case res := <-req.reply:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply queues e for the next Tick and waits for the committed version.
func (o *Orchestrator) Apply(ctx context.Context, e ownership.Edit) (uint64, error) {
	req := editRequest{edit: e, reply: make(chan editResult, 1)}
	select {
	case o.edits <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
		return 0, &ownership.EditError{Code: protocol.ErrUnavailable, Msg: "edit inbox full"}
	}
	select {
	case res := <-req.reply:
		return res.version, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (o *Orchestrator) serveInbox() {
	for {
		select {
		case req := <-o.snapshots:
			req.reply <- o.snapshotNow(req.addr)
		case req := <-o.edits:
			v, err := o.ApplyEdit(req.edit)
			req.reply <- editResult{version: v, err: err}
		default:
			return
		}
	}
}

func (o *Orchestrator) snapshotNow(a chunk.Address) snapshotResult {
	r, ok := o.records[a]
	if !ok || r.data == nil || !r.m.State().IsReady() {
		return snapshotResult{err: ownership.ErrNotFound}
	}
	d := r.data.Clone()
	d.Version, _ = o.versions.Version(a)
	return snapshotResult{data: d}
}

// ApplyEdit writes one voxel of an Active chunk. It is the synchronous form
// of Apply for code already running on the orchestrating goroutine.
//
// The chunk's version goes up even when the block is unchanged. Every other
// chunk whose mesh touches the voxel is remeshed at its current version.
func (o *Orchestrator) ApplyEdit(e ownership.Edit) (uint64, error) {
	r, ok := o.records[e.Addr]
	if !ok || r.data == nil {
		o.counters.editsRejected++
		return 0, &ownership.EditError{Code: protocol.ErrNotFound, Msg: fmt.Sprintf("chunk %s is not loaded", e.Addr)}
	}
	if !r.m.IsModifiable() {
		o.counters.editsRejected++
		return 0, &ownership.EditError{Code: protocol.ErrNotModifiable, Msg: fmt.Sprintf("chunk %s is %s", e.Addr, r.m.State())}
	}
	if !r.data.InBounds(e.X, e.Y, e.Z) {
		o.counters.editsRejected++
		return 0, &ownership.EditError{Code: protocol.ErrOutOfBounds, Msg: fmt.Sprintf("pos %d,%d,%d", e.X, e.Y, e.Z)}
	}
	r.data.Set(e.X, e.Y, e.Z, e.Block)
	o.markEdited(r)
	v, _ := o.versions.Version(e.Addr)

	fan := invalidate.EditFanout(o.topo, e.Addr, o.size, e.X, e.Y, e.Z, o.diagonal)
	for _, n := range fan[1:] {
		if nr, ok := o.records[n]; ok {
			o.remeshStale(nr)
		}
	}
	o.counters.editsApplied++
	if o.events != nil {
		_ = o.events.Record(journal.Event{
			Tick:    o.tick,
			Kind:    journal.KindEdit,
			Addr:    e.Addr.String(),
			Version: v,
			Reason:  fmt.Sprintf("pos=%d,%d,%d block=%d from=%s", e.X, e.Y, e.Z, e.Block, e.From),
		})
	}
	return v, nil
}
