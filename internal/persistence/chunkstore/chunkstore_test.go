package chunkstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voxelflow.ai/internal/chunk"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, backend := range []string{BackendDir, BackendSQLite, BackendLevelDB, BackendMemory} {
		path := filepath.Join(dir, backend)
		if backend == BackendSQLite {
			path = filepath.Join(dir, "chunks.sqlite")
		}
		s, err := Open(backend, path)
		if err != nil {
			t.Fatalf("open %s: %v", backend, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		out[backend] = s
	}
	return out
}

func TestBackendsSaveLoadList(t *testing.T) {
	ctx := context.Background()
	addrs := []chunk.Address{{X: -3, Y: 1, Z: 7}, {X: 0}, {Face: 2, X: 5, Y: -1, Z: -9}}
	for name, s := range openAll(t) {
		if _, ok, err := s.Load(ctx, addrs[0]); ok || err != nil {
			t.Fatalf("%s: empty store load ok=%v err=%v", name, ok, err)
		}
		for i, a := range addrs {
			if err := s.Save(ctx, a, []byte{byte(i), 1, 2, 3}); err != nil {
				t.Fatalf("%s: save %v: %v", name, a, err)
			}
		}
		if err := s.Save(ctx, addrs[1], []byte("overwritten")); err != nil {
			t.Fatalf("%s: overwrite: %v", name, err)
		}
		b, ok, err := s.Load(ctx, addrs[1])
		if err != nil || !ok || string(b) != "overwritten" {
			t.Fatalf("%s: load after overwrite b=%q ok=%v err=%v", name, b, ok, err)
		}
		b, ok, _ = s.Load(ctx, addrs[2])
		if !ok || !cmp.Equal(b, []byte{2, 1, 2, 3}) {
			t.Fatalf("%s: load %v = %v", name, addrs[2], b)
		}
		got, err := s.(Lister).List(ctx)
		if err != nil {
			t.Fatalf("%s: list: %v", name, err)
		}
		want := []chunk.Address{{X: 0}, {X: -3, Y: 1, Z: 7}, {Face: 2, X: 5, Y: -1, Z: -9}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s: list mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("tape", t.TempDir()); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err=%v", err)
	}
}

func TestKeyRoundTripOrdering(t *testing.T) {
	for _, a := range []chunk.Address{{}, {Face: 5, X: -1 << 40, Y: 3, Z: 1 << 33}} {
		got, err := decodeKey(encodeKey(a))
		if err != nil || got != a {
			t.Fatalf("key %v -> %v err=%v", a, got, err)
		}
	}
	if _, err := decodeKey([]byte{0, 1}); err == nil {
		t.Fatalf("short key should fail")
	}
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	Memory
}

func (f *flakyStore) Save(ctx context.Context, a chunk.Address, b []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, a, b)
}

func waitOutcomes(t *testing.T, s *Saver, n int) []Outcome {
	t.Helper()
	var out []Outcome
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d outcomes", n)
		}
		out = append(out, s.DrainResults()...)
		time.Sleep(time.Millisecond)
	}
	return out
}

func TestSaverRetriesThenSucceeds(t *testing.T) {
	st := &flakyStore{failures: 2, Memory: Memory{data: map[chunk.Address][]byte{}}}
	s := NewSaver(SaverConfig{Store: st, Retries: 2, Backoff: time.Millisecond})
	defer s.Close()
	a := chunk.Address{X: 1}
	if !s.Submit(Job{Addr: a, Version: 3, Bytes: []byte("v3")}) {
		t.Fatalf("submit refused")
	}
	o := waitOutcomes(t, s, 1)[0]
	if o.Err != nil || o.Attempts != 3 || o.Version != 3 || o.Addr != a {
		t.Fatalf("outcome=%+v", o)
	}
	if b, ok, _ := st.Load(context.Background(), a); !ok || string(b) != "v3" {
		t.Fatalf("saved bytes=%q ok=%v", b, ok)
	}
	stats := s.Stats()
	if stats.RetryTotal != 2 || stats.SuccessTotal != 1 || stats.Pending != 0 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestSaverReportsExhaustedRetries(t *testing.T) {
	st := &flakyStore{failures: 10, Memory: Memory{data: map[chunk.Address][]byte{}}}
	s := NewSaver(SaverConfig{Store: st, Retries: 1, Backoff: time.Millisecond})
	defer s.Close()
	s.Submit(Job{Addr: chunk.Address{}, Version: 1})
	o := waitOutcomes(t, s, 1)[0]
	if o.Err == nil || o.Attempts != 2 {
		t.Fatalf("outcome=%+v", o)
	}
	if s.Stats().FailTotal != 1 {
		t.Fatalf("stats=%+v", s.Stats())
	}
}

func TestSaverRefusesWhenClosed(t *testing.T) {
	s := NewSaver(SaverConfig{Store: NewMemory()})
	s.Close()
	if s.Submit(Job{}) {
		t.Fatalf("closed saver accepted a job")
	}
}
