package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/protocol"
	"voxelflow.ai/internal/voxel"
)

type ServerConfig struct {
	World     ownership.World
	Registry  *voxel.Registry
	ChunkSize int
	NodeID    string
	// Directory, when set, limits this server to the chunks NodeID owns;
	// requests for other chunks get E_NOT_OWNER.
	Directory *ownership.Directory
	// EditRatePerSec limits edits per connection. Zero means unlimited.
	EditRatePerSec float64
	// RequestTimeout bounds how long a request waits on the world.
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// Server exposes an ownership.Authority over websocket. Each connection is
// one participant.
type Server struct {
	auth      *ownership.Authority
	validator *protocol.Validator
	reg       *voxel.Registry
	size      int
	nodeID    string
	editRate  float64
	timeout   time.Duration
	log       *log.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[ownership.ParticipantID]chan []byte
}

func NewServer(cfg ServerConfig) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	s := &Server{
		validator: v,
		reg:       cfg.Registry,
		size:      cfg.ChunkSize,
		nodeID:    cfg.NodeID,
		editRate:  cfg.EditRatePerSec,
		timeout:   cfg.RequestTimeout,
		log:       cfg.Logger,
		conns:     map[ownership.ParticipantID]chan []byte{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	s.auth = ownership.NewAuthority(ownership.AuthorityConfig{
		World:     cfg.World,
		Registry:  cfg.Registry,
		ChunkSize: cfg.ChunkSize,
		Deliver:   s.deliver,
		Directory: cfg.Directory,
		Node:      cfg.NodeID,
		Logger:    cfg.Logger,
	})
	return s, nil
}

func (s *Server) Authority() *ownership.Authority { return s.auth }

// Connections reports the number of participants currently attached.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		pid, ok := s.handshake(conn)
		if !ok {
			return
		}
		out := make(chan []byte, 64)
		s.mu.Lock()
		s.conns[pid] = out
		s.mu.Unlock()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.editRate > 0 {
			burst := int(s.editRate)
			if burst < 1 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(s.editRate), burst)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			reply := s.handle(ctx, pid, limiter, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.auth.Unsubscribe(pid, nil)
		s.mu.Lock()
		delete(s.conns, pid)
		s.mu.Unlock()
		s.printf("ws participant left id=%s", pid)
	}
}

func (s *Server) handle(ctx context.Context, pid ownership.ParticipantID, limiter *rate.Limiter, msg []byte) any {
	var env struct {
		Type  string `json:"type"`
		ReqID string `json:"req_id"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "malformed json")
	}
	if err := s.validator.Validate(env.Type, msg); err != nil {
		return errorMsg(env.ReqID, protocol.ErrProtoBadRequest, err.Error())
	}
	switch env.Type {
	case protocol.TypeChunkRequest:
		var req protocol.ChunkRequestMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return errorMsg("", protocol.ErrProtoBadRequest, err.Error())
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		rep, err := s.auth.Request(rctx, pid, req.Addr.Address(), req.KnownVersion)
		if err != nil {
			return failure(req.ReqID, err)
		}
		if rep.Unchanged {
			return protocol.ChunkUnchangedMsg{Type: protocol.TypeChunkUnchanged, ReqID: req.ReqID, Addr: req.Addr, Version: rep.Version}
		}
		digest := rep.Data.Digest()
		return protocol.ChunkDataMsg{
			Type:    protocol.TypeChunkData,
			ReqID:   req.ReqID,
			Addr:    req.Addr,
			Version: rep.Version,
			Size:    rep.Data.Size,
			Blocks:  voxel.EncodeRLE(rep.Data.Blocks),
			Digest:  hex.EncodeToString(digest[:]),
		}

	case protocol.TypeEdit:
		var em protocol.EditMsg
		if err := json.Unmarshal(msg, &em); err != nil {
			return errorMsg("", protocol.ErrProtoBadRequest, err.Error())
		}
		if limiter != nil && !limiter.Allow() {
			return errorMsg(em.ReqID, protocol.ErrRateLimit, "edit rate exceeded")
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, err := s.auth.Submit(rctx, ownership.Edit{
			Addr:  em.Addr.Address(),
			X:     em.Pos[0],
			Y:     em.Pos[1],
			Z:     em.Pos[2],
			Block: em.Block,
			From:  pid,
		})
		if err != nil {
			return failure(em.ReqID, err)
		}
		return protocol.EditAckMsg{Type: protocol.TypeEditAck, ReqID: em.ReqID, Addr: em.Addr, Version: v}

	case protocol.TypeHello:
		return errorMsg("", protocol.ErrProtoBadRequest, "already joined")
	}
	return nil
}

func (s *Server) handshake(conn *websocket.Conn) (ownership.ParticipantID, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello || s.validator.Validate(protocol.TypeHello, msg) != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if !supports(hello) {
		_ = writeJSON(conn, errorMsg("", protocol.ErrProtoUnsupported, "protocol_version "+hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}

	pid := ownership.NewParticipantID()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		ParticipantID:   string(pid),
		NodeID:          s.nodeID,
		ChunkSize:       s.size,
	}
	if s.reg != nil {
		welcome.PaletteDigest = s.reg.Digest
		welcome.PaletteCount = len(s.reg.Palette)
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	s.printf("ws participant joined id=%s name=%s", pid, hello.ParticipantName)
	return pid, true
}

func supports(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

// deliver queues a delta without blocking. A participant whose queue is full
// misses it and refetches once it sees the version gap.
func (s *Server) deliver(to ownership.ParticipantID, d ownership.Delta) {
	s.mu.Lock()
	out, ok := s.conns[to]
	s.mu.Unlock()
	if !ok {
		return
	}
	b, err := json.Marshal(protocol.ChunkDeltaMsg{
		Type:    protocol.TypeChunkDelta,
		Addr:    protocol.AddrOf(d.Addr),
		Pos:     [3]int{d.X, d.Y, d.Z},
		Block:   d.Block,
		Version: d.Version,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		s.printf("ws delta dropped id=%s addr=%s version=%d", to, d.Addr, d.Version)
	}
}

func failure(reqID string, err error) protocol.ErrorMsg {
	var ee *ownership.EditError
	if errors.As(err, &ee) {
		return errorMsg(reqID, ee.Code, ee.Msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errorMsg(reqID, protocol.ErrUnavailable, "timed out waiting for the world")
	}
	return errorMsg(reqID, protocol.ErrInternal, err.Error())
}

func errorMsg(reqID, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, ReqID: reqID, Code: code, Message: message}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
