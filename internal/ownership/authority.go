// Package ownership arbitrates write access to chunk data across processes.
// One Authority owns each chunk; every other participant holds a Replica
// that only changes when the authority says so.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

type ParticipantID string

func NewParticipantID() ParticipantID { return ParticipantID(uuid.NewString()) }

// Edit sets one voxel of a chunk. X, Y and Z are chunk-local.
type Edit struct {
	Addr    chunk.Address
	X, Y, Z int
	Block   uint16
	From    ParticipantID
}

// Delta is what subscribers receive once an edit is committed.
type Delta struct {
	Addr    chunk.Address
	X, Y, Z int
	Block   uint16
	Version uint64
}

// Reply answers a Request. Data is nil when Unchanged is set.
type Reply struct {
	Addr      chunk.Address
	Version   uint64
	Unchanged bool
	Data      *voxel.Data
}

// EditError is a rejected request. Code is a protocol error code.
type EditError struct {
	Code string
	Msg  string
}

func (e *EditError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func editErr(code, format string, args ...any) *EditError {
	return &EditError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrNotFound is returned by a World that has no data for an address.
var ErrNotFound = errors.New("ownership: chunk not available")

// World is the authoritative chunk data. Snapshot returns an owned copy.
// Apply commits an edit and returns the new version; it may refuse with an
// *EditError.
type World interface {
	Snapshot(ctx context.Context, a chunk.Address) (*voxel.Data, error)
	Apply(ctx context.Context, e Edit) (uint64, error)
}

// Deliver pushes a delta to one participant. It must not block.
type Deliver func(to ParticipantID, d Delta)

type AuthorityConfig struct {
	World     World
	Registry  *voxel.Registry
	ChunkSize int
	Deliver   Deliver
	// Directory and Node restrict the authority to the chunks Node owns.
	// A nil Directory owns everything.
	Directory *Directory
	Node      string
	Logger    *log.Logger
}

type Authority struct {
	world   World
	reg     *voxel.Registry
	size    int
	deliver Deliver
	dir     *Directory
	node    string
	logger  *log.Logger

	// mu guards subs and locks. It is never held across a World call.
	mu    sync.Mutex
	subs  map[chunk.Address]map[ParticipantID]struct{}
	locks map[chunk.Address]*addrLock
}

// addrLock orders commits and deltas for one chunk. Edits to different
// chunks never wait on each other.
type addrLock struct {
	mu   sync.Mutex
	refs int
}

func NewAuthority(cfg AuthorityConfig) *Authority {
	return &Authority{
		world:   cfg.World,
		reg:     cfg.Registry,
		size:    cfg.ChunkSize,
		deliver: cfg.Deliver,
		dir:     cfg.Directory,
		node:    cfg.Node,
		logger:  cfg.Logger,
		subs:    map[chunk.Address]map[ParticipantID]struct{}{},
		locks:   map[chunk.Address]*addrLock{},
	}
}

func (a *Authority) lock(addr chunk.Address) (unlock func()) {
	a.mu.Lock()
	l := a.locks[addr]
	if l == nil {
		l = &addrLock{}
		a.locks[addr] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(a.locks, addr)
		}
		a.mu.Unlock()
	}
}

func (a *Authority) checkOwner(addr chunk.Address) error {
	if a.dir == nil || a.dir.Owns(a.node, addr) {
		return nil
	}
	return editErr(protocol.ErrNotOwner, "chunk %s is owned by %s", addr, a.dir.Owner(addr))
}

// Request subscribes p to a and returns fresh data unless known already
// matches the current version.
func (a *Authority) Request(ctx context.Context, p ParticipantID, addr chunk.Address, known uint64) (Reply, error) {
	if err := a.checkOwner(addr); err != nil {
		return Reply{}, err
	}
	// Snapshot and subscribe under the chunk lock so no committed edit falls
	// between the returned version and the first delta.
	unlock := a.lock(addr)
	defer unlock()
	d, err := a.world.Snapshot(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Reply{}, editErr(protocol.ErrNotFound, "chunk %s is not loaded", addr)
		}
		return Reply{}, err
	}
	a.mu.Lock()
	set := a.subs[addr]
	if set == nil {
		set = map[ParticipantID]struct{}{}
		a.subs[addr] = set
	}
	set[p] = struct{}{}
	a.mu.Unlock()

	if known != 0 && known == d.Version {
		return Reply{Addr: addr, Version: d.Version, Unchanged: true}, nil
	}
	return Reply{Addr: addr, Version: d.Version, Data: d}, nil
}

// Submit validates and commits e, then fans the delta out to every other
// participant that has requested the chunk.
func (a *Authority) Submit(ctx context.Context, e Edit) (uint64, error) {
	if err := a.checkOwner(e.Addr); err != nil {
		return 0, err
	}
	if err := a.validate(e); err != nil {
		return 0, err
	}
	unlock := a.lock(e.Addr)
	defer unlock()
	v, err := a.world.Apply(ctx, e)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	to := make([]ParticipantID, 0, len(a.subs[e.Addr]))
	for p := range a.subs[e.Addr] {
		if p != e.From {
			to = append(to, p)
		}
	}
	a.mu.Unlock()

	d := Delta{Addr: e.Addr, X: e.X, Y: e.Y, Z: e.Z, Block: e.Block, Version: v}
	n := 0
	if a.deliver != nil {
		for _, p := range to {
			a.deliver(p, d)
			n++
		}
	}
	a.printf("ownership edit addr=%s pos=%d,%d,%d block=%d version=%d fanout=%d", e.Addr, e.X, e.Y, e.Z, e.Block, v, n)
	return v, nil
}

func (a *Authority) validate(e Edit) error {
	if e.X < 0 || e.Y < 0 || e.Z < 0 || e.X >= a.size || e.Y >= a.size || e.Z >= a.size {
		return editErr(protocol.ErrOutOfBounds, "pos %d,%d,%d outside chunk of size %d", e.X, e.Y, e.Z, a.size)
	}
	if a.reg != nil && !a.reg.Known(e.Block) {
		return editErr(protocol.ErrUnknownBlock, "block %d", e.Block)
	}
	return nil
}

// Unsubscribe drops p from a, or from every chunk when a is nil.
func (a *Authority) Unsubscribe(p ParticipantID, addr *chunk.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr != nil {
		a.dropLocked(p, *addr)
		return
	}
	for k := range a.subs {
		a.dropLocked(p, k)
	}
}

func (a *Authority) dropLocked(p ParticipantID, addr chunk.Address) {
	set := a.subs[addr]
	delete(set, p)
	if len(set) == 0 {
		delete(a.subs, addr)
	}
}

// Subscribers reports how many participants follow addr.
func (a *Authority) Subscribers(addr chunk.Address) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs[addr])
}

func (a *Authority) printf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
