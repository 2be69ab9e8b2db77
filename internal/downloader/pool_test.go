package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketWarehouse/internal/cache"
	"MarketWarehouse/internal/collector"
	"MarketWarehouse/internal/config"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/store"
)

var testEnd = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Mode:                "hot",
		HotLookbackDays:     730,
		FullStart:           "1990-01-01",
		CacheExpiry:         24 * time.Hour,
		RateLimitAttempts:   2,
		RateLimitBackoffMin: 20 * time.Second,
		RateLimitBackoffMax: 40 * time.Second,
		EmptyPolicy:         "retry",
		EmptyExcludeDays:    30,
	}
}

type sleeps struct {
	mu  sync.Mutex
	all []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, d)
	return nil
}

func newTestPool(t *testing.T, f collector.Fetcher, rt config.Runtime, empties *EmptyList) (*Pool, *store.MemoryStore, *cache.Dir, *sleeps) {
	t.Helper()
	repo := store.NewMemoryStore()
	dir := cache.New(filepath.Join(t.TempDir(), "dayK"), 24*time.Hour)
	p := New(f, repo, dir, empties, testSyncConfig(), rt, zerolog.Nop())
	s := &sleeps{}
	p.sleep = s.sleep
	return p, repo, dir, s
}

func listingsOf(symbols ...string) []model.Listing {
	out := make([]model.Listing, len(symbols))
	for i, s := range symbols {
		out[i] = model.Listing{Code: s, Symbol: s, DisplayName: s}
	}
	return out
}

func TestSync_Outcomes(t *testing.T) {
	f := &collector.MockFetcher{
		Bars: map[string][]model.PriceBar{
			"A": collector.GenerateBars("A", 100, 300, testEnd),
			"B": collector.GenerateBars("B", 50, 100, testEnd),
		},
		Errors: map[string]error{"D": errors.New("connection reset")},
	}
	p, repo, _, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 3}, nil)

	res := p.Sync(context.Background(), listingsOf("A", "B", "C", "D"), model.ModeHot)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Empty)
	assert.Equal(t, 1, res.Error)
	assert.EqualValues(t, 400, res.RowsChanged)
	assert.True(t, res.HasChanged())
	assert.Equal(t, []string{"C"}, res.FailedSymbols(model.OutcomeEmpty))
	assert.Equal(t, []string{"D"}, res.FailedSymbols(model.OutcomeError))

	rows, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 400, rows)
}

func TestSync_SecondRunUnchanged(t *testing.T) {
	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A": collector.GenerateBars("A", 100, 300, testEnd),
	}}
	p, repo, _, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 2}, nil)

	first := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	require.True(t, first.HasChanged())

	second := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, second.Success)
	assert.False(t, second.HasChanged())

	rows, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 300, rows)
}

func TestSync_CacheShortCircuit(t *testing.T) {
	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A": collector.GenerateBars("A", 100, 10, testEnd),
	}}
	p, _, dir, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 1, CacheEnabled: true}, nil)

	first := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, first.Success)
	assert.True(t, dir.IsFresh("A"))

	second := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, second.Cache)
	assert.Equal(t, 1, f.Calls("A"), "cache hit makes no network call")
	assert.Equal(t, 1, second.Synced())
}

// failingUpserts rejects the first n price writes.
type failingUpserts struct {
	*store.MemoryStore
	remaining atomic.Int32
}

func (f *failingUpserts) UpsertPriceBars(ctx context.Context, bars []model.PriceBar) (int64, error) {
	if f.remaining.Add(-1) >= 0 {
		return 0, errors.New("disk I/O error")
	}
	return f.MemoryStore.UpsertPriceBars(ctx, bars)
}

func TestSync_StoreFailureIsRetriedNextRun(t *testing.T) {
	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A": collector.GenerateBars("A", 100, 10, testEnd),
	}}
	repo := &failingUpserts{MemoryStore: store.NewMemoryStore()}
	repo.remaining.Store(1)
	dir := cache.New(filepath.Join(t.TempDir(), "dayK"), 24*time.Hour)
	p := New(f, repo, dir, nil, testSyncConfig(), config.Runtime{WorkerPoolSize: 1, CacheEnabled: true}, zerolog.Nop())
	p.sleep = (&sleeps{}).sleep

	first := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, first.Error)
	assert.False(t, dir.IsFresh("A"), "a failed write leaves no cache file behind")

	second := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, second.Success)
	assert.Zero(t, second.Cache)
	assert.Equal(t, 2, f.Calls("A"))

	bars, err := repo.RecentBars(context.Background(), "A", 100)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}

func TestSync_CacheDisabledAlwaysFetches(t *testing.T) {
	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A": collector.GenerateBars("A", 100, 10, testEnd),
	}}
	p, _, dir, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 1}, nil)

	p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 2, f.Calls("A"))
	assert.False(t, dir.IsFresh("A"), "no cache file is written when caching is off")
}

func TestSync_RateLimitRetry(t *testing.T) {
	f := &collector.MockFetcher{
		Bars: map[string][]model.PriceBar{
			"A": collector.GenerateBars("A", 100, 5, testEnd),
			"B": collector.GenerateBars("B", 100, 5, testEnd),
		},
		RateLimits: map[string]int{"A": 1, "B": 5},
	}
	p, _, _, s := newTestPool(t, f, config.Runtime{WorkerPoolSize: 1}, nil)

	res := p.Sync(context.Background(), listingsOf("A", "B"), model.ModeHot)

	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Error)
	assert.Equal(t, []string{"B"}, res.FailedSymbols(model.OutcomeError))
	assert.Equal(t, 2, f.Calls("A"))
	assert.Equal(t, 2, f.Calls("B"), "attempts are bounded")

	var backoffs int
	for _, d := range s.all {
		if d >= 20*time.Second {
			assert.LessOrEqual(t, d, 40*time.Second)
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)
}

func TestSync_DropsInvalidBars(t *testing.T) {
	bars := collector.GenerateBars("A", 100, 3, testEnd)
	bars[1].Close = 0
	bars[2].High = bars[2].Low - 1
	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{"A": bars}}
	p, repo, _, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 1}, nil)

	res := p.Sync(context.Background(), listingsOf("A"), model.ModeHot)
	assert.Equal(t, 1, res.Success)
	rows, _ := repo.CountRows(context.Background())
	assert.EqualValues(t, 1, rows)
}

func TestSync_ExcludePolicySkipsRecentEmpties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty_symbols.json")
	empties, err := LoadEmptyList(path, 30)
	require.NoError(t, err)

	f := &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A": collector.GenerateBars("A", 100, 5, testEnd),
	}}
	p, _, _, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 2}, empties)

	first := p.Sync(context.Background(), listingsOf("A", "GONE"), model.ModeHot)
	assert.Equal(t, 1, first.Empty)

	reloaded, err := LoadEmptyList(path, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())

	p.empties = reloaded
	second := p.Sync(context.Background(), listingsOf("A", "GONE"), model.ModeHot)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Empty)
	assert.Equal(t, 1, f.Calls("GONE"))

	p.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	third := p.Sync(context.Background(), listingsOf("GONE"), model.ModeHot)
	assert.Equal(t, 1, third.Empty, "retried once the window has passed")
}

func TestEmptyList_SuccessClearsEntry(t *testing.T) {
	e, err := LoadEmptyList(filepath.Join(t.TempDir(), "e.json"), 30)
	require.NoError(t, err)
	now := time.Now()

	e.Record(model.SymbolOutcome{Symbol: "X", Outcome: model.OutcomeEmpty}, now)
	assert.True(t, e.Excluded("X", now))
	e.Record(model.SymbolOutcome{Symbol: "X", Outcome: model.OutcomeSuccess}, now)
	assert.False(t, e.Excluded("X", now))
}

func TestSync_FullModeRequestsFromFullStart(t *testing.T) {
	var got time.Time
	f := fetcherFunc(func(_ context.Context, symbol string, start time.Time) ([]model.PriceBar, error) {
		got = start
		return nil, nil
	})
	p, _, _, _ := newTestPool(t, f, config.Runtime{WorkerPoolSize: 1}, nil)

	p.Sync(context.Background(), listingsOf("A"), model.ModeFull)
	assert.Equal(t, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

type fetcherFunc func(ctx context.Context, symbol string, start time.Time) ([]model.PriceBar, error)

func (f fetcherFunc) FetchHistory(ctx context.Context, symbol string, start time.Time) ([]model.PriceBar, error) {
	return f(ctx, symbol, start)
}

func (f fetcherFunc) Name() string { return "func" }
