package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int   `yaml:"tick_rate_hz" toml:"tick_rate_hz"`
	ChunkSize  int   `yaml:"chunk_size" toml:"chunk_size"`
	Seed       int64 `yaml:"seed" toml:"seed"`

	Workers     int `yaml:"workers" toml:"workers"`
	MaxInFlight int `yaml:"max_in_flight" toml:"max_in_flight"`

	Budgets Budgets `yaml:"budgets" toml:"budgets"`

	LoadRadius   int `yaml:"load_radius" toml:"load_radius"`
	UnloadRadius int `yaml:"unload_radius" toml:"unload_radius"`

	MaxTaskRetries     int `yaml:"max_task_retries" toml:"max_task_retries"`
	SaveRetries        int `yaml:"save_retries" toml:"save_retries"`
	SaveRetryBackoffMs int `yaml:"save_retry_backoff_ms" toml:"save_retry_backoff_ms"`

	Store      Store  `yaml:"store" toml:"store"`
	JournalDir string `yaml:"journal_dir" toml:"journal_dir"`
	BlocksPath string `yaml:"blocks_path" toml:"blocks_path"`

	DiagonalInvalidation bool `yaml:"diagonal_invalidation" toml:"diagonal_invalidation"`

	BoundaryR     int  `yaml:"boundary_r" toml:"boundary_r"`
	VerticalLimit bool `yaml:"vertical_limit" toml:"vertical_limit"`
	MinY          int  `yaml:"min_y" toml:"min_y"`
	MaxY          int  `yaml:"max_y" toml:"max_y"`

	EditRatePerSec float64 `yaml:"edit_rate_per_sec" toml:"edit_rate_per_sec"`
}

type Budgets struct {
	GenerationMs    float64 `yaml:"generation_ms" toml:"generation_ms"`
	MeshingMs       float64 `yaml:"meshing_ms" toml:"meshing_ms"`
	EmergencyFactor int     `yaml:"emergency_factor" toml:"emergency_factor"`
}

type Store struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults is a runnable single-process configuration.
func Defaults() Tuning {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	return Tuning{
		TickRateHz:  20,
		ChunkSize:   16,
		Seed:        1337,
		Workers:     workers,
		MaxInFlight: 3 * workers,
		Budgets: Budgets{
			GenerationMs:    4,
			MeshingMs:       4,
			EmergencyFactor: 4,
		},
		LoadRadius:         6,
		UnloadRadius:       8,
		MaxTaskRetries:     3,
		SaveRetries:        3,
		SaveRetryBackoffMs: 200,
		Store:              Store{Backend: "memory"},
		VerticalLimit:      true,
		MinY:               -2,
		MaxY:               4,
		EditRatePerSec:     20,
	}
}

// Load reads path over Defaults. A .toml extension selects TOML, anything
// else YAML.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("%s: %w", name, err)
		}
	} else if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		bad("tick_rate_hz %d out of range 1..1000", t.TickRateHz)
	}
	if t.ChunkSize <= 0 || t.ChunkSize > 256 {
		bad("chunk_size %d out of range 1..256", t.ChunkSize)
	}
	if t.Workers <= 0 {
		bad("workers must be positive")
	}
	if t.MaxInFlight < t.Workers {
		bad("max_in_flight %d below workers %d", t.MaxInFlight, t.Workers)
	}
	if t.Budgets.GenerationMs <= 0 || t.Budgets.MeshingMs <= 0 {
		bad("budgets must be positive")
	}
	if t.Budgets.EmergencyFactor < 1 {
		bad("budgets.emergency_factor must be >= 1")
	}
	if t.LoadRadius < 0 {
		bad("load_radius must not be negative")
	}
	if t.UnloadRadius < t.LoadRadius {
		bad("unload_radius %d below load_radius %d", t.UnloadRadius, t.LoadRadius)
	}
	if t.MaxTaskRetries < 0 || t.SaveRetries < 0 || t.SaveRetryBackoffMs < 0 {
		bad("retry settings must not be negative")
	}
	switch t.Store.Backend {
	case "memory", "":
	case "dir", "sqlite", "leveldb":
		if t.Store.Path == "" {
			bad("store.path required for backend %q", t.Store.Backend)
		}
	default:
		bad("unknown store.backend %q", t.Store.Backend)
	}
	if t.BoundaryR < 0 {
		bad("boundary_r must not be negative")
	}
	if t.VerticalLimit && t.MaxY < t.MinY {
		bad("max_y %d below min_y %d", t.MaxY, t.MinY)
	}
	if t.EditRatePerSec < 0 {
		bad("edit_rate_per_sec must not be negative")
	}
	return errors.Join(errs...)
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) GenerationBudget() time.Duration { return msDuration(t.Budgets.GenerationMs) }
func (t Tuning) MeshingBudget() time.Duration    { return msDuration(t.Budgets.MeshingMs) }

func (t Tuning) SaveRetryBackoff() time.Duration {
	return time.Duration(t.SaveRetryBackoffMs) * time.Millisecond
}

func msDuration(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
