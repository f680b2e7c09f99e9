package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/transport/ws"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/chunks", "authority ws url")
		name   = flag.String("name", "peer", "participant name")
		chunks = flag.String("chunks", "0,0,0", "semicolon-separated chunk addresses x,y,z to follow")
		editMs = flag.Int("edit_every_ms", 0, "place a random block in a followed chunk this often (0 disables)")
		block  = flag.Uint("block", 4, "block id placed by edits")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[peer] ", log.LstdFlags|log.Lmicroseconds)
	addrs, err := parseAddrs(*chunks)
	if err != nil {
		logger.Fatalf("chunks: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := ws.Dial(ctx, *url, ws.ClientConfig{
		Name:   *name,
		Logger: logger,
		OnDelta: func(d ownership.Delta, applied bool) {
			logger.Printf("DELTA addr=%s pos=%d,%d,%d block=%d version=%d applied=%v", d.Addr, d.X, d.Y, d.Z, d.Block, d.Version, applied)
		},
	})
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	w := c.Welcome()
	logger.Printf("WELCOME participant_id=%s node=%s chunk_size=%d palette=%d", w.ParticipantID, w.NodeID, w.ChunkSize, w.PaletteCount)

	for _, a := range addrs {
		if err := follow(ctx, c, a, logger); err != nil {
			logger.Printf("request addr=%s err=%v", a, err)
		}
	}

	if *editMs <= 0 {
		<-ctx.Done()
		return
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	t := time.NewTicker(time.Duration(*editMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		a := addrs[r.Intn(len(addrs))]
		x, y, z := r.Intn(w.ChunkSize), r.Intn(w.ChunkSize), r.Intn(w.ChunkSize)
		v, err := c.Edit(ctx, a, x, y, z, uint16(*block))
		if err != nil {
			logger.Printf("edit addr=%s pos=%d,%d,%d err=%v", a, x, y, z, err)
			// A dropped replica is refetched on the next request.
			if c.Replica().Known(a) == 0 {
				_ = follow(ctx, c, a, logger)
			}
			continue
		}
		logger.Printf("EDIT_ACK addr=%s pos=%d,%d,%d version=%d", a, x, y, z, v)
	}
}

func follow(ctx context.Context, c *ws.Client, a chunk.Address, logger *log.Logger) error {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rep, err := c.Request(rctx, a)
	if err != nil {
		return err
	}
	logger.Printf("CHUNK addr=%s version=%d unchanged=%v", a, rep.Version, rep.Unchanged)
	return nil
}

// parseAddrs reads "x,y,z;x,y,z" as face-0 chunk addresses.
func parseAddrs(s string) ([]chunk.Address, error) {
	var out []chunk.Address
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := strings.Split(part, ",")
		if len(f) != 3 {
			return nil, fmt.Errorf("address %q: want x,y,z", part)
		}
		var v [3]int
		for i := range f {
			n, err := strconv.Atoi(strings.TrimSpace(f[i]))
			if err != nil {
				return nil, fmt.Errorf("address %q: %w", part, err)
			}
			v[i] = n
		}
		out = append(out, chunk.Address{X: v[0], Y: v[1], Z: v[2]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses in %q", s)
	}
	return out, nil
}
