package chunkstore

import (
	"context"
	"sort"
	"sync"

	"voxelflow.ai/internal/chunk"
)

// Memory keeps everything in process. Used by tests and throwaway servers.
type Memory struct {
	mu   sync.RWMutex
	data map[chunk.Address][]byte
}

func NewMemory() *Memory { return &Memory{data: map[chunk.Address][]byte{}} }

func (m *Memory) Save(_ context.Context, a chunk.Address, b []byte) error {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	m.data[a] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, a chunk.Address) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[a]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *Memory) List(context.Context) ([]chunk.Address, error) {
	m.mu.RLock()
	out := make([]chunk.Address, 0, len(m.data))
	for a := range m.data {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
