package collector

import (
	"context"
	"sync"
	"time"

	"MarketWarehouse/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu         sync.Mutex
	Bars       map[string][]model.PriceBar // symbols absent here return no data
	Errors     map[string]error
	RateLimits map[string]int // ErrRateLimited responses before a symbol succeeds
	calls      map[string]int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchHistory(_ context.Context, symbol string, _ time.Time) ([]model.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[symbol]++

	if n := m.RateLimits[symbol]; n > 0 {
		m.RateLimits[symbol] = n - 1
		return nil, ErrRateLimited
	}
	if err := m.Errors[symbol]; err != nil {
		return nil, err
	}
	bars := m.Bars[symbol]
	out := make([]model.PriceBar, len(bars))
	copy(out, bars)
	return out, nil
}

// Calls reports how many times symbol was requested.
func (m *MockFetcher) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

// GenerateBars builds count weekday bars for symbol ending on end, with a
// gentle upward drift from basePrice.
func GenerateBars(symbol string, basePrice float64, count int, end time.Time) []model.PriceBar {
	dates := make([]time.Time, 0, count)
	for d := end; len(dates) < count; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		dates = append(dates, d)
	}

	bars := make([]model.PriceBar, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.PriceBar{
			Date:   dates[count-1-i].Format("2006-01-02"),
			Symbol: symbol,
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}

// HistoryStart returns the first date requested for mode.
func HistoryStart(mode model.SyncMode, now time.Time, hotLookbackDays int, fullStart time.Time) time.Time {
	if mode == model.ModeFull {
		return fullStart
	}
	y, m, d := now.AddDate(0, 0, -hotLookbackDays).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
