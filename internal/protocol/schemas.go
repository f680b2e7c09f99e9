package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://voxelflow.ai/schemas/"

// inbound maps the message types a participant may send to their schema.
var inbound = map[string]string{
	TypeHello:        "hello.schema.json",
	TypeChunkRequest: "chunk_request.schema.json",
	TypeEdit:         "edit.schema.json",
}

// Validator checks inbound messages against the embedded JSON schemas.
// A compiled Validator is safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range inbound {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema for msgType. Types without an
// inbound schema are rejected.
func (v *Validator) Validate(msgType string, raw []byte) error {
	s, ok := v.schemas[msgType]
	if !ok {
		return fmt.Errorf("protocol: no inbound schema for %q", msgType)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
