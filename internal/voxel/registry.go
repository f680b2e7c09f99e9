package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlockDef describes one block kind. Its id is its position in the palette.
type BlockDef struct {
	Name   string `yaml:"name"`
	Opaque bool   `yaml:"opaque"`
}

// Registry is the read-only block palette shared by the orchestrator and all
// workers. It is never mutated after construction.
type Registry struct {
	Palette []string
	Index   map[string]uint16
	Defs    []BlockDef
	Digest  string
}

type registryFile struct {
	Blocks []BlockDef `yaml:"blocks"`
}

// NewRegistry builds a registry. The first block must be "air".
func NewRegistry(defs []BlockDef) (*Registry, error) {
	if len(defs) == 0 || defs[0].Name != "air" {
		return nil, fmt.Errorf("registry: first block must be air")
	}
	if len(defs) > 1<<16 {
		return nil, fmt.Errorf("registry: %d blocks exceed palette range", len(defs))
	}
	r := &Registry{
		Palette: make([]string, 0, len(defs)),
		Index:   make(map[string]uint16, len(defs)),
		Defs:    make([]BlockDef, 0, len(defs)),
	}
	h := sha256.New()
	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("registry: block %d has no name", i)
		}
		if _, dup := r.Index[name]; dup {
			return nil, fmt.Errorf("registry: duplicate block %q", name)
		}
		d.Name = name
		r.Index[name] = uint16(i)
		r.Palette = append(r.Palette, name)
		r.Defs = append(r.Defs, d)
		fmt.Fprintf(h, "%s:%t\n", name, d.Opaque)
	}
	r.Digest = hex.EncodeToString(h.Sum(nil))
	return r, nil
}

func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("blocks.yaml: %w", err)
	}
	return NewRegistry(f.Blocks)
}

// DefaultRegistry matches the palette the reference terrain generator emits.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]BlockDef{
		{Name: "air"},
		{Name: "dirt", Opaque: true},
		{Name: "grass", Opaque: true},
		{Name: "sand", Opaque: true},
		{Name: "stone", Opaque: true},
		{Name: "gravel", Opaque: true},
		{Name: "log", Opaque: true},
		{Name: "coal_ore", Opaque: true},
		{Name: "iron_ore", Opaque: true},
		{Name: "water"},
		{Name: "glass"},
	})
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Known(id uint16) bool { return int(id) < len(r.Defs) }

// Opaque reports whether id hides the faces behind it. Unknown ids are
// treated as transparent.
func (r *Registry) Opaque(id uint16) bool {
	if !r.Known(id) {
		return false
	}
	return r.Defs[id].Opaque
}

func (r *Registry) ID(name string) (uint16, bool) {
	id, ok := r.Index[name]
	return id, ok
}
