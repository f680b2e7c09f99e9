// Package journal records chunk lifecycle events to compressed JSONL files
// for offline inspection.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const (
	KindTransition = "transition"
	KindFailure    = "failure"
	KindEdit       = "edit"
	KindSave       = "save"
)

// Event is one journal line. Addr uses chunk.Address.String().
type Event struct {
	Tick    uint64 `json:"tick"`
	Kind    string `json:"kind"`
	Addr    string `json:"addr"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Version uint64 `json:"version,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Journal writes Events under dir/events.
type Journal struct{ w *JSONLZstdWriter }

func Open(dir string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(filepath.Join(dir, "events"), "events")}
}

func (j *Journal) Record(ev Event) error { return j.w.Write(ev) }
func (j *Journal) Close() error          { return j.w.Close() }

// Files lists the journal files under dir in chronological order.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadFile calls fn for every event in path. It stops at the first error fn
// returns. A truncated final frame ends the read without error.
func ReadFile(path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var ev Event
			if jerr := json.Unmarshal(line, &ev); jerr != nil {
				return fmt.Errorf("%s: %w", path, jerr)
			}
			if ferr := fn(ev); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}
