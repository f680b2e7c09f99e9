package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

// ErrClosed is returned for calls made after the connection dropped.
var ErrClosed = errors.New("ws: client closed")

// Client is a passive participant. Everything it learns lands in its Replica.
type Client struct {
	conn    *websocket.Conn
	replica *ownership.Replica
	log     *log.Logger
	welcome protocol.WelcomeMsg

	onDelta func(d ownership.Delta, applied bool)

	writeMu sync.Mutex
	nextReq atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan []byte
	done    chan struct{}
	err     error
}

type ClientConfig struct {
	Name   string
	Logger *log.Logger
	// OnDelta observes every CHUNK_DELTA and whether the replica accepted it.
	// It runs on the read goroutine.
	OnDelta func(d ownership.Delta, applied bool)
}

func Dial(ctx context.Context, url string, cfg ClientConfig) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ParticipantName: cfg.Name}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil || w.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %s", msg)
	}
	c := &Client{
		conn:    conn,
		replica: ownership.NewReplica(),
		log:     cfg.Logger,
		onDelta: cfg.OnDelta,
		welcome: w,
		pending: map[string]chan []byte{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }
func (c *Client) Replica() *ownership.Replica { return c.replica }

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Request fetches a unless the replica already holds the current version.
func (c *Client) Request(ctx context.Context, a chunk.Address) (ownership.Reply, error) {
	id := c.reqID()
	msg, err := c.call(ctx, id, protocol.ChunkRequestMsg{
		Type:         protocol.TypeChunkRequest,
		ReqID:        id,
		Addr:         protocol.AddrOf(a),
		KnownVersion: c.replica.Known(a),
	})
	if err != nil {
		return ownership.Reply{}, err
	}
	base, _ := protocol.DecodeBase(msg)
	var rep ownership.Reply
	switch base.Type {
	case protocol.TypeChunkUnchanged:
		var m protocol.ChunkUnchangedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return ownership.Reply{}, err
		}
		rep = ownership.Reply{Addr: a, Version: m.Version, Unchanged: true}
	case protocol.TypeChunkData:
		var m protocol.ChunkDataMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return ownership.Reply{}, err
		}
		d, err := decodeChunk(m)
		if err != nil {
			return ownership.Reply{}, err
		}
		rep = ownership.Reply{Addr: a, Version: m.Version, Data: d}
	default:
		return ownership.Reply{}, fmt.Errorf("ws: unexpected %s for request", base.Type)
	}
	if err := c.replica.ApplyReply(rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// Edit submits a voxel change and waits for the authority to confirm it.
// The confirmed edit is applied to the replica when it is the next version.
func (c *Client) Edit(ctx context.Context, a chunk.Address, x, y, z int, block uint16) (uint64, error) {
	id := c.reqID()
	msg, err := c.call(ctx, id, protocol.EditMsg{
		Type:  protocol.TypeEdit,
		ReqID: id,
		Addr:  protocol.AddrOf(a),
		Pos:   [3]int{x, y, z},
		Block: block,
	})
	if err != nil {
		return 0, err
	}
	var ack protocol.EditAckMsg
	if err := json.Unmarshal(msg, &ack); err != nil {
		return 0, err
	}
	if ack.Type != protocol.TypeEditAck {
		return 0, fmt.Errorf("ws: unexpected %s for edit", ack.Type)
	}
	c.replica.ApplyDelta(ownership.Delta{Addr: a, X: x, Y: y, Z: z, Block: block, Version: ack.Version})
	return ack.Version, nil
}

func (c *Client) reqID() string { return "R" + strconv.FormatUint(c.nextReq.Add(1), 10) }

// call sends v and waits for the message carrying req_id. An ERROR reply
// becomes an *ownership.EditError.
func (c *Client) call(ctx context.Context, id string, v any) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := c.conn.WriteJSON(v)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		var e protocol.ErrorMsg
		if json.Unmarshal(msg, &e) == nil && e.Type == protocol.TypeError {
			return nil, &ownership.EditError{Code: e.Code, Msg: e.Message}
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = ErrClosed
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}
		var env struct {
			Type  string `json:"type"`
			ReqID string `json:"req_id"`
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.Type == protocol.TypeChunkDelta {
			c.handleDelta(msg)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[env.ReqID]
		if ok {
			delete(c.pending, env.ReqID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
			continue
		}
		c.printf("ws unmatched message type=%s req_id=%s", env.Type, env.ReqID)
	}
}

func (c *Client) handleDelta(msg []byte) {
	var m protocol.ChunkDeltaMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	d := ownership.Delta{Addr: m.Addr.Address(), X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2], Block: m.Block, Version: m.Version}
	applied := c.replica.ApplyDelta(d)
	if c.onDelta != nil {
		c.onDelta(d, applied)
	}
}

func decodeChunk(m protocol.ChunkDataMsg) (*voxel.Data, error) {
	if m.Size <= 0 || m.Size > voxel.MaxSize {
		return nil, fmt.Errorf("ws: chunk size %d: %w", m.Size, voxel.ErrMalformed)
	}
	ids, err := voxel.DecodeRLE(m.Blocks, m.Size*m.Size*m.Size)
	if err != nil {
		return nil, err
	}
	d := voxel.New(m.Size)
	copy(d.Blocks, ids)
	d.Version = m.Version
	digest := d.Digest()
	if m.Digest != "" && hex.EncodeToString(digest[:]) != m.Digest {
		return nil, fmt.Errorf("ws: chunk %v digest mismatch", m.Addr)
	}
	return d, nil
}

func (c *Client) printf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
