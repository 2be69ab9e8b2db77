package recorder

import (
	"context"
	"sort"
	"sync"

	"MarketWarehouse/internal/model"
)

// MemoryRecorder keeps the latest run per market in memory. It is used when
// no history database is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	latest map[string]model.RunSummary
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{latest: make(map[string]model.RunSummary)}
}

func (m *MemoryRecorder) RecordRun(_ context.Context, run model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[run.Market] = run
	return nil
}

func (m *MemoryRecorder) Latest(_ context.Context) ([]model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunSummary, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }
