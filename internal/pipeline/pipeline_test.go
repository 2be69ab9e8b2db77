package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketWarehouse/internal/backup"
	"MarketWarehouse/internal/collector"
	"MarketWarehouse/internal/config"
	"MarketWarehouse/internal/listing"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/recorder"
)

type stubSource struct {
	items []model.Listing
	err   error
}

func (s stubSource) Fetch(context.Context) ([]model.Listing, error) { return s.items, s.err }

var testMarket = model.Market{ID: "tw-share", Name: "Taiwan", Enabled: true, QuoteURL: "https://www.wantgoo.com/stock/{code}"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.Sync = config.SyncConfig{
		Mode:              "hot",
		HotLookbackDays:   730,
		FullStart:         "1990-01-01",
		CacheExpiry:       24 * time.Hour,
		RateLimitAttempts: 2,
		EmptyPolicy:       "retry",
		EmptyExcludeDays:  30,
	}
	cfg.Analysis.MinBars = 252
	cfg.Analysis.TopN = 50
	cfg.Markets = []model.Market{testMarket}
	cfg.Backup = config.BackupConfig{Provider: "file", LocalDir: filepath.Join(t.TempDir(), "remote"), Attempts: 1}
	return cfg
}

func testListings() []model.Listing {
	return []model.Listing{
		{Code: "A", Symbol: "A.TW", DisplayName: "Alpha"},
		{Code: "B", Symbol: "B.TW", DisplayName: "Beta"},
		{Code: "C", Symbol: "C.TW", DisplayName: "Gamma"},
	}
}

func testFetcher() *collector.MockFetcher {
	end := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	return &collector.MockFetcher{Bars: map[string][]model.PriceBar{
		"A.TW": collector.GenerateBars("A.TW", 100, 300, end),
		"B.TW": collector.GenerateBars("B.TW", 50, 100, end),
	}}
}

func newTestPipeline(t *testing.T, cfg *config.Config, src listing.Source, f collector.Fetcher) (*Pipeline, backup.Remote) {
	t.Helper()
	remote, err := backup.New(context.Background(), cfg.Backup)
	require.NoError(t, err)
	p := New(cfg, Deps{
		Fetcher:  f,
		Sources:  func(model.Market) (listing.Source, error) { return src, nil },
		Remote:   remote,
		Recorder: recorder.NewMemoryRecorder(),
	}, zerolog.Nop())
	p.Runtime = config.Runtime{CacheEnabled: false, WorkerPoolSize: 2}
	return p, remote
}

func TestRunMarket_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	p, remote := newTestPipeline(t, cfg, stubSource{items: testListings()}, testFetcher())
	ctx := context.Background()

	first := p.RunMarket(ctx, testMarket)
	require.Empty(t, first.Err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 3, first.Listed)
	assert.Equal(t, 2, first.Sync.Success)
	assert.Equal(t, 1, first.Sync.Empty)
	assert.Equal(t, []string{"C.TW"}, first.Sync.FailedSymbols(model.OutcomeEmpty))
	assert.True(t, first.Sync.HasChanged())
	assert.Equal(t, int64(400), first.TotalRows)
	assert.Greater(t, first.StoreBytes, int64(0))

	assert.True(t, first.Maintenance.Ran)
	assert.True(t, first.Maintenance.Uploaded)
	_, err := remote.Find(ctx, backup.ObjectName("tw-share"))
	require.NoError(t, err)

	require.Len(t, first.Rows, 1, "only A has a year of history")
	assert.Equal(t, "A.TW", first.Rows[0].Ticker)
	assert.Equal(t, "Alpha", first.Rows[0].DisplayName)
	assert.Len(t, first.Charts, 9)
	assert.Len(t, first.TextReports, 3)
	assert.False(t, first.Emailed, "no email configured")

	_, err = os.Stat(PathsFor(cfg.Paths.DataDir, "tw-share").ListingBackup)
	assert.NoError(t, err)

	second := p.RunMarket(ctx, testMarket)
	require.Empty(t, second.Err)
	assert.False(t, second.Sync.HasChanged())
	assert.Equal(t, int64(0), second.Sync.RowsChanged)
	assert.False(t, second.Maintenance.Ran)
	assert.Equal(t, first.TotalRows, second.TotalRows)
	assert.NotEqual(t, first.RunID, second.RunID)

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, second.RunID, latest[0].RunID)
}

func TestRunMarket_ColdStartRestoresBackup(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(t, cfg, stubSource{items: testListings()}, testFetcher())
	ctx := context.Background()

	first := p.RunMarket(ctx, testMarket)
	require.True(t, first.Maintenance.Uploaded)

	require.NoError(t, os.RemoveAll(filepath.Join(cfg.Paths.DataDir, "tw-share")))

	p2, _ := newTestPipeline(t, cfg, stubSource{items: testListings()}, &collector.MockFetcher{})
	again := p2.RunMarket(ctx, testMarket)
	require.Empty(t, again.Err)
	assert.Equal(t, 3, again.Sync.Empty)
	assert.Equal(t, first.TotalRows, again.TotalRows, "restored store keeps its rows")
	assert.Len(t, again.Rows, 1)
}

func TestRunMarket_NoListingAborts(t *testing.T) {
	cfg := testConfig(t)
	f := testFetcher()
	p, _ := newTestPipeline(t, cfg, stubSource{err: errors.New("connection reset")}, f)

	report := p.RunMarket(context.Background(), testMarket)
	assert.Contains(t, report.Err, "no listing")
	assert.Zero(t, report.Sync.Total)
	assert.Zero(t, f.Calls("A.TW"))
}

func TestRunMarket_ListingBackupUsedOnFailure(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	p, _ := newTestPipeline(t, cfg, stubSource{items: testListings()}, testFetcher())
	require.Empty(t, p.RunMarket(ctx, testMarket).Err)

	p2, _ := newTestPipeline(t, cfg, stubSource{err: errors.New("timeout")}, testFetcher())
	report := p2.RunMarket(ctx, testMarket)
	require.Empty(t, report.Err)
	assert.Equal(t, 3, report.Listed)
}

func TestRunMarket_BackupListingWithFreshStore(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	p, _ := newTestPipeline(t, cfg, stubSource{items: testListings()}, testFetcher())
	require.Empty(t, p.RunMarket(ctx, testMarket).Err)

	paths := PathsFor(cfg.Paths.DataDir, "tw-share")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(paths.Store + suffix)
	}

	p2 := New(cfg, Deps{
		Fetcher:  testFetcher(),
		Sources:  func(model.Market) (listing.Source, error) { return stubSource{err: errors.New("timeout")}, nil },
		Recorder: recorder.NewMemoryRecorder(),
	}, zerolog.Nop())
	p2.Runtime = config.Runtime{WorkerPoolSize: 2}

	report := p2.RunMarket(ctx, testMarket)
	require.Empty(t, report.Err)
	assert.Equal(t, 3, report.Listed)
	assert.Equal(t, 2, report.Sync.Success)
	require.Len(t, report.Rows, 1, "synced bars are analyzed without stored symbol metadata")
	assert.Equal(t, "A.TW", report.Rows[0].Ticker)
	assert.Equal(t, "Alpha", report.Rows[0].DisplayName)
}

type panicSource struct{}

func (panicSource) Fetch(context.Context) ([]model.Listing, error) { panic("bad payload") }

func TestRunMarket_RecoversPanic(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(t, cfg, panicSource{}, testFetcher())

	report := p.RunMarket(context.Background(), testMarket)
	assert.Equal(t, "panic: bad payload", report.Err)

	latest, err := p.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, report.Err, latest[0].Err)
}

func TestRunAll_SkipsDisabledMarkets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Markets = append(cfg.Markets, model.Market{ID: "us-share", Name: "United States", Enabled: false})
	p, _ := newTestPipeline(t, cfg, stubSource{items: testListings()}, testFetcher())

	reports := p.RunAll(context.Background())
	require.Len(t, reports, 1)
	assert.Equal(t, "tw-share", reports[0].Market.ID)
}

func TestPathsFor(t *testing.T) {
	paths := PathsFor("data", "kr-share")
	assert.Equal(t, filepath.Join("data", "kr-share", "stock_warehouse.db"), paths.Store)
	assert.Equal(t, filepath.Join("data", "kr-share", "dayK"), paths.Cache)
	assert.Equal(t, filepath.Join("data", "kr-share", "empty_symbols.json"), paths.EmptyList)
}
