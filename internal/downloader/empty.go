package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"MarketWarehouse/internal/model"
)

// EmptyList remembers symbols that returned no data so the exclude policy
// can skip them for a number of days.
type EmptyList struct {
	path    string
	days    int
	mu      sync.Mutex
	entries map[string]string // symbol -> day it was last seen empty
}

// LoadEmptyList reads the list at path. A missing file is an empty list.
func LoadEmptyList(path string, days int) (*EmptyList, error) {
	e := &EmptyList{path: path, days: days, entries: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, fmt.Errorf("read empty list: %w", err)
	}
	if err := json.Unmarshal(data, &e.entries); err != nil {
		return nil, fmt.Errorf("decode empty list: %w", err)
	}
	return e, nil
}

// Excluded reports whether symbol was seen empty within the exclusion window.
func (e *EmptyList) Excluded(symbol string, now time.Time) bool {
	e.mu.Lock()
	day, ok := e.entries[symbol]
	e.mu.Unlock()
	if !ok {
		return false
	}
	seen, err := time.Parse("2006-01-02", day)
	if err != nil {
		return false
	}
	return now.Sub(seen) < time.Duration(e.days)*24*time.Hour
}

// Record updates the list from one sync outcome.
func (e *EmptyList) Record(o model.SymbolOutcome, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch o.Outcome {
	case model.OutcomeEmpty:
		e.entries[o.Symbol] = now.Format("2006-01-02")
	case model.OutcomeSuccess, model.OutcomeCache:
		delete(e.entries, o.Symbol)
	}
}

// Len returns the number of remembered symbols.
func (e *EmptyList) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Save writes the list back to disk.
func (e *EmptyList) Save() error {
	e.mu.Lock()
	data, err := json.MarshalIndent(e.entries, "", "  ")
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(e.path, data, 0o644)
}
