package chunkstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelflow.ai/internal/chunk"
)

// fileHeader is the first line of every chunk file.
type fileHeader struct {
	Format  int    `json:"format"`
	Face    uint8  `json:"face"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	SavedAt string `json:"saved_at"`
}

const dirFormat = 1

// Dir stores one zstd file per chunk: a JSON header line then the raw bytes.
// Writes go to a temp file and are renamed into place.
type Dir struct {
	root string
}

func OpenDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("empty store dir")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(a chunk.Address) string {
	return filepath.Join(d.root, fmt.Sprintf("f%d", a.Face), fmt.Sprintf("c.%d.%d.%d.zst", a.X, a.Y, a.Z))
}

func (d *Dir) Save(ctx context.Context, a chunk.Address, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.path(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeChunkFile(tmp, a, b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeChunkFile(f *os.File, a chunk.Address, b []byte) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(fileHeader{
		Format:  dirFormat,
		Face:    a.Face,
		X:       a.X,
		Y:       a.Y,
		Z:       a.Z,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(b); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (d *Dir) Load(ctx context.Context, a chunk.Address) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f, err := os.Open(d.path(a))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, false, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, false, fmt.Errorf("chunk file %s: header: %w", d.path(a), err)
	}
	var h fileHeader
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, false, fmt.Errorf("chunk file %s: header: %w", d.path(a), err)
	}
	if h.Format != dirFormat {
		return nil, false, fmt.Errorf("chunk file %s: unsupported format %d", d.path(a), h.Format)
	}
	if (chunk.Address{Face: h.Face, X: h.X, Y: h.Y, Z: h.Z}) != a {
		return nil, false, fmt.Errorf("chunk file %s: header names a different chunk", d.path(a))
	}
	b, err := io.ReadAll(br)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (d *Dir) List(context.Context) ([]chunk.Address, error) {
	var out []chunk.Address
	err := filepath.WalkDir(d.root, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zst") || strings.HasPrefix(e.Name(), ".tmp-") {
			return nil
		}
		var a chunk.Address
		var face int
		if _, err := fmt.Sscanf(filepath.Base(filepath.Dir(path)), "f%d", &face); err != nil {
			return nil
		}
		if _, err := fmt.Sscanf(e.Name(), "c.%d.%d.%d.zst", &a.X, &a.Y, &a.Z); err != nil {
			return nil
		}
		a.Face = uint8(face)
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (d *Dir) Close() error { return nil }
