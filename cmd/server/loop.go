package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/orchestrator"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/streaming"
)

// tickLoop owns the orchestrator. Streaming decisions, Tick and the final
// flush all run on its goroutine.
type tickLoop struct {
	orch     *orchestrator.Orchestrator
	policy   streaming.RadiusPolicy
	dir      *ownership.Directory
	node     string
	viewers  []mgl64.Vec3
	interval time.Duration
	logger   *log.Logger

	// logEvery is the number of ticks between status lines. Zero means 200.
	logEvery uint64
}

func (l *tickLoop) run(ctx context.Context) error {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	every := l.logEvery
	if every == 0 {
		every = 200
	}
	for {
		select {
		case <-ctx.Done():
			return l.close()
		case <-t.C:
		}
		l.step()
		l.orch.Tick()
		if st := l.orch.Stats(); st.Tick%every == 0 {
			l.printf("tick=%d loaded=%d active=%d waiting=%d gen_q=%d mesh_q=%d in_flight=%d stale=%d unsaved=%d",
				st.Tick, st.Loaded, st.States[lifecycle.Active], st.Waiting, st.GenQueue, st.MeshQueue, st.InFlight, st.Stale, st.Unsaved)
		}
	}
}

// step applies the streaming plan for chunks this node owns.
func (l *tickLoop) step() (enqueued, unloaded int) {
	load, unload := l.policy.Plan(l.viewers, l.orch.Loaded())
	for _, w := range load {
		if l.dir != nil && !l.dir.Owns(l.node, w.Addr) {
			continue
		}
		if l.orch.Enqueue(w.Addr, w.Dist) {
			enqueued++
		}
	}
	for _, a := range unload {
		l.orch.Unload(a)
		unloaded++
	}
	return enqueued, unloaded
}

func (l *tickLoop) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.orch.Close(ctx); err != nil {
		l.printf("shutdown flush: %v", err)
		return err
	}
	return nil
}

func (l *tickLoop) printf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// parseViewers reads "x,y,z;x,y,z".
func parseViewers(s string) ([]mgl64.Vec3, error) {
	var out []mgl64.Vec3
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("viewer %q: want x,y,z", part)
		}
		var v mgl64.Vec3
		for i, f := range fields {
			n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("viewer %q: %w", part, err)
			}
			v[i] = n
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no viewers in %q", s)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
