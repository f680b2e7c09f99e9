package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "tick_rate_hz: 10\nworkers: 2\nmax_in_flight: 8\nbudgets:\n  generation_ms: 2.5\nstore:\n  backend: sqlite\n  path: data/chunks.sqlite\ndiagonal_invalidation: true\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Workers != 2 || tu.MaxInFlight != 8 || !tu.DiagonalInvalidation {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.GenerationBudget() != 2500*time.Microsecond {
		t.Fatalf("generation budget=%v", tu.GenerationBudget())
	}
	if tu.MeshingBudget() != 4*time.Millisecond || tu.ChunkSize != 16 {
		t.Fatalf("unset keys should keep defaults: %+v", tu)
	}
	if tu.TickInterval() != 100*time.Millisecond {
		t.Fatalf("tick interval=%v", tu.TickInterval())
	}
}

func TestLoadTOML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.toml")
	raw := "chunk_size = 32\nseed = 42\n\n[store]\nbackend = \"leveldb\"\npath = \"data/ldb\"\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.ChunkSize != 32 || tu.Seed != 42 || tu.Store.Backend != "leveldb" || tu.Store.Path != "data/ldb" {
		t.Fatalf("toml not applied: %+v", tu)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Tuning){
		"tick_rate_hz":     func(t *Tuning) { t.TickRateHz = 0 },
		"max_in_flight":    func(t *Tuning) { t.MaxInFlight = t.Workers - 1 },
		"unload_radius":    func(t *Tuning) { t.UnloadRadius = t.LoadRadius - 1 },
		"store.path":       func(t *Tuning) { t.Store = Store{Backend: "dir"} },
		"store.backend":    func(t *Tuning) { t.Store.Backend = "tape" },
		"emergency_factor": func(t *Tuning) { t.Budgets.EmergencyFactor = 0 },
		"max_y":            func(t *Tuning) { t.MinY, t.MaxY = 3, 1 },
	}
	for want, mutate := range cases {
		tu := Defaults()
		mutate(&tu)
		err := tu.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: err=%v", want, err)
		}
	}
}
