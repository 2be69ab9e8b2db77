package store

import (
	"context"
	"sort"
	"sync"

	"MarketWarehouse/internal/model"
)

type barKey struct {
	date   string
	symbol string
}

// MemoryStore is an in-process Repository with the same upsert semantics as SQLiteStore.
type MemoryStore struct {
	mu      sync.Mutex
	bars    map[barKey]model.PriceBar
	symbols map[string]model.SymbolRecord
	vacuums int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars:    make(map[barKey]model.PriceBar),
		symbols: make(map[string]model.SymbolRecord),
	}
}

func (m *MemoryStore) UpsertPriceBars(_ context.Context, bars []model.PriceBar) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for _, b := range bars {
		k := barKey{date: b.Date, symbol: b.Symbol}
		if old, ok := m.bars[k]; ok && old == b {
			continue
		}
		m.bars[k] = b
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) UpsertSymbols(_ context.Context, records []model.SymbolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.symbols[r.Symbol] = r
	}
	return nil
}

func (m *MemoryStore) Symbols(_ context.Context) ([]model.SymbolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SymbolRecord, 0, len(m.symbols))
	for _, r := range m.symbols {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) RecentBars(_ context.Context, symbol string, n int) ([]model.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PriceBar
	for k, b := range m.bars {
		if k.symbol == symbol {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *MemoryStore) CountRows(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.bars)), nil
}

func (m *MemoryStore) Vacuum(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vacuums++
	return nil
}

// Vacuums reports how many times Vacuum ran.
func (m *MemoryStore) Vacuums() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vacuums
}

func (m *MemoryStore) Path() string { return "" }

func (m *MemoryStore) Close() error { return nil }
