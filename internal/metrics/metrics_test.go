package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelflow.ai/internal/budget"
	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/orchestrator"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/pipeline"
)

func TestHandlerExportsStats(t *testing.T) {
	reg := NewRegistry(Sources{
		Orchestrator: func() orchestrator.Stats {
			return orchestrator.Stats{
				Tick:         42,
				States:       map[lifecycle.State]int{lifecycle.Active: 3, lifecycle.Meshing: 1},
				GenQueue:     5,
				Stale:        2,
				Unsaved:      1,
				Budget:       []budget.Usage{{Category: budget.Generation, Used: 2 * time.Millisecond, Ceiling: 4 * time.Millisecond}},
				EditsApplied: 7,
			}
		},
		Pool:        func() pipeline.Stats { return pipeline.Stats{InFlight: 4, SubmittedTotal: 9} },
		Saver:       func() chunkstore.SaverStats { return chunkstore.SaverStats{Pending: 2, SuccessTotal: 6} },
		Connections: func() int { return 3 },
	})
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`voxelflow_chunks{state="ACTIVE"} 3`,
		`voxelflow_chunks{state="MESHING"} 1`,
		`voxelflow_queue_length{queue="generation"} 5`,
		`voxelflow_results_total{outcome="stale"} 2`,
		`voxelflow_edits_total{outcome="applied"} 7`,
		`voxelflow_budget_used_seconds{category="generation"} 0.002`,
		`voxelflow_tick 42`,
		`voxelflow_pool_in_flight 4`,
		`voxelflow_pool_tasks_total{outcome="submitted"} 9`,
		`voxelflow_saver_jobs_total{outcome="ok"} 6`,
		`voxelflow_connections 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestNilSourcesAreSkipped(t *testing.T) {
	reg := NewRegistry(Sources{})
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
