// Package downloader syncs daily bars of a market's listing into the store.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"MarketWarehouse/internal/cache"
	"MarketWarehouse/internal/collector"
	"MarketWarehouse/internal/config"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/store"
)

// Pool fans symbol downloads out to a fixed number of workers. A Pool is
// built per market sync and holds no state between calls to Sync.
type Pool struct {
	fetcher  collector.Fetcher
	repo     store.Repository
	cache    *cache.Dir
	cfg      config.SyncConfig
	runtime  config.Runtime
	empties  *EmptyList
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pool. empties may be nil when the empty policy is retry.
func New(fetcher collector.Fetcher, repo store.Repository, dir *cache.Dir, empties *EmptyList,
	cfg config.SyncConfig, rt config.Runtime, logger zerolog.Logger) *Pool {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Pool{
		fetcher:  fetcher,
		repo:     repo,
		cache:    dir,
		cfg:      cfg,
		runtime:  rt,
		empties:  empties,
		limiter:  rate.NewLimiter(limit, 1),
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Sync downloads every listed symbol and returns the aggregated outcome.
// Counters are merged by the calling goroutine only.
func (p *Pool) Sync(ctx context.Context, listings []model.Listing, mode model.SyncMode) model.SyncResult {
	started := p.now()
	start := collector.HistoryStart(mode, started, p.cfg.HotLookbackDays, p.cfg.FullStartDate())

	workers := p.runtime.WorkerPoolSize
	if workers < 1 {
		workers = 1
	}

	p.logger.Info().
		Int("symbols", len(listings)).
		Int("workers", workers).
		Str("mode", string(mode)).
		Str("from", start.Format("2006-01-02")).
		Msg("sync started")

	jobs := make(chan model.Listing)
	results := make(chan model.SymbolOutcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l := range jobs {
				results <- p.syncOne(ctx, l.Symbol, start)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, l := range listings {
			select {
			case jobs <- l:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var res model.SyncResult
	for o := range results {
		res.Add(o)
		if p.empties != nil {
			p.empties.Record(o, started)
		}
		if res.Total%200 == 0 {
			p.logger.Info().Int("done", res.Total).Int("of", len(listings)).Msg("sync progress")
		}
	}
	res.Duration = p.now().Sub(started)

	if p.empties != nil {
		if err := p.empties.Save(); err != nil {
			p.logger.Error().Err(err).Msg("save empty symbol list")
		}
	}

	p.logger.Info().
		Int("success", res.Success).
		Int("cache", res.Cache).
		Int("empty", res.Empty).
		Int("error", res.Error).
		Int("skipped", res.Skipped).
		Int64("rows_changed", res.RowsChanged).
		Dur("duration", res.Duration).
		Msg("sync finished")
	return res
}

func (p *Pool) syncOne(ctx context.Context, symbol string, start time.Time) model.SymbolOutcome {
	out := model.SymbolOutcome{Symbol: symbol}

	if p.runtime.CacheEnabled && p.cache.IsFresh(symbol) {
		out.Outcome = model.OutcomeCache
		return out
	}
	if p.empties != nil && p.empties.Excluded(symbol, p.now()) {
		out.Outcome = model.OutcomeSkipped
		return out
	}

	if err := p.sleep(ctx, randBetween(p.cfg.JitterMin, p.cfg.JitterMax)); err != nil {
		out.Outcome, out.Err = model.OutcomeError, err
		return out
	}

	bars, err := p.fetch(ctx, symbol, start)
	if err != nil {
		p.logger.Debug().Err(err).Str("symbol", symbol).Msg("download failed")
		out.Outcome, out.Err = model.OutcomeError, err
		return out
	}

	bars = p.clean(symbol, bars)
	if len(bars) == 0 {
		out.Outcome = model.OutcomeEmpty
		return out
	}

	changed, err := p.repo.UpsertPriceBars(ctx, bars)
	if err != nil {
		out.Outcome, out.Err = model.OutcomeError, fmt.Errorf("store %s: %w", symbol, err)
		return out
	}

	// A cache file marks the symbol as done until it expires, so it is only
	// written once the bars are in the store.
	if p.runtime.CacheEnabled {
		if err := p.cache.Write(symbol, bars); err != nil {
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("write cache file")
		}
	}
	out.Outcome, out.Rows, out.Changed = model.OutcomeSuccess, len(bars), changed
	return out
}

// fetch requests one symbol, backing off and retrying when the provider
// reports rate limiting.
func (p *Pool) fetch(ctx context.Context, symbol string, start time.Time) ([]model.PriceBar, error) {
	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		}
		bars, err := p.fetcher.FetchHistory(reqCtx, symbol, start)
		cancel()

		if !errors.Is(err, collector.ErrRateLimited) || attempt >= p.cfg.RateLimitAttempts {
			return bars, err
		}
		wait := randBetween(p.cfg.RateLimitBackoffMin, p.cfg.RateLimitBackoffMax)
		p.logger.Warn().Str("symbol", symbol).Int("attempt", attempt).Dur("backoff", wait).Msg("rate limited")
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// clean drops bars that fail validation.
func (p *Pool) clean(symbol string, bars []model.PriceBar) []model.PriceBar {
	out := bars[:0]
	for _, b := range bars {
		b.Symbol = symbol
		if err := p.validate.Struct(b); err != nil {
			p.logger.Debug().Str("symbol", symbol).Str("date", b.Date).Msg("dropping invalid bar")
			continue
		}
		out = append(out, b)
	}
	return out
}

func randBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
