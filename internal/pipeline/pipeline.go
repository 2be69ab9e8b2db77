// Package pipeline runs the per-market chain: listing, sync, maintenance,
// analysis and notification.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketWarehouse/internal/analyzer"
	"MarketWarehouse/internal/backup"
	"MarketWarehouse/internal/cache"
	"MarketWarehouse/internal/collector"
	"MarketWarehouse/internal/config"
	"MarketWarehouse/internal/downloader"
	"MarketWarehouse/internal/listing"
	"MarketWarehouse/internal/maintenance"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/notifier"
	"MarketWarehouse/internal/recorder"
	"MarketWarehouse/internal/store"
)

// Paths locates a market's files under the data directory.
type Paths struct {
	Store         string
	Cache         string
	ListingBackup string
	EmptyList     string
}

// PathsFor returns the file layout of marketID.
func PathsFor(dataDir, marketID string) Paths {
	root := filepath.Join(dataDir, marketID)
	return Paths{
		Store:         filepath.Join(root, "stock_warehouse.db"),
		Cache:         filepath.Join(root, "dayK"),
		ListingBackup: filepath.Join(root, "stock_list_backup.json"),
		EmptyList:     filepath.Join(root, "empty_symbols.json"),
	}
}

// Deps are the collaborators a Pipeline uses. Nil fields get production defaults.
type Deps struct {
	Fetcher   collector.Fetcher
	Sources   func(market model.Market) (listing.Source, error)
	OpenStore func(path string) (store.Repository, error)
	Remote    backup.Remote
	Notifier  *notifier.Notifier
	Recorder  recorder.Recorder
}

// Pipeline processes markets one at a time.
type Pipeline struct {
	Runtime config.Runtime

	cfg       *config.Config
	fetcher   collector.Fetcher
	sources   func(market model.Market) (listing.Source, error)
	openStore func(path string) (store.Repository, error)
	remote    backup.Remote
	notifier  *notifier.Notifier
	recorder  recorder.Recorder
	logger    zerolog.Logger
	mu        sync.Mutex
	now       func() time.Time
}

// New creates a pipeline for cfg.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		Runtime:   cfg.Runtime(),
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		sources:   deps.Sources,
		openStore: deps.OpenStore,
		remote:    deps.Remote,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		logger:    logger,
		now:       time.Now,
	}
	if p.fetcher == nil {
		p.fetcher = collector.NewYahooFetcher(cfg.Proxy, cfg.Sync.RequestTimeout)
	}
	if p.sources == nil {
		client := listingClient(cfg.Proxy, cfg.Sync.ListingTimeout)
		p.sources = func(m model.Market) (listing.Source, error) { return listing.ForMarket(m.ID, client) }
	}
	if p.openStore == nil {
		p.openStore = func(path string) (store.Repository, error) {
			s, err := store.OpenSQLite(path, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if p.notifier == nil {
		p.notifier = DefaultNotifier(cfg, logger)
	}
	if p.recorder == nil {
		p.recorder = recorder.NewMemoryRecorder()
	}
	return p
}

// DefaultNotifier builds the email and Telegram channels from cfg.
func DefaultNotifier(cfg *config.Config, logger zerolog.Logger) *notifier.Notifier {
	email := notifier.NewEmailSender(cfg.Email.APIKey, cfg.Email.BaseURL, cfg.Email.From, cfg.Email.To, cfg.Proxy)
	tg := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
	return notifier.New(email, tg, cfg.Analysis.TopN, logger)
}

func listingClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// RunAll runs every enabled market in config order.
func (p *Pipeline) RunAll(ctx context.Context) []model.MarketReport {
	started := p.now()
	markets := p.cfg.EnabledMarkets()
	reports := make([]model.MarketReport, 0, len(markets))
	for _, m := range markets {
		if ctx.Err() != nil {
			p.logger.Warn().Str("market", m.ID).Msg("cancelled, skipping remaining markets")
			break
		}
		reports = append(reports, p.RunMarket(ctx, m))
	}
	p.logger.Info().Int("markets", len(reports)).Dur("took", p.now().Sub(started)).Msg("all markets finished")
	return reports
}

// RunMarket syncs, maintains, analyzes and reports one market. It never
// panics; a failed run is described by the report's Err.
func (p *Pipeline) RunMarket(ctx context.Context, market model.Market) (report model.MarketReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.now()
	report = model.MarketReport{RunID: uuid.NewString(), Market: market, GeneratedAt: started}
	log := p.logger.With().Str("market", market.ID).Str("run_id", report.RunID).Logger()
	log.Info().Msg("market run started")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("market run panicked")
			report.Err = fmt.Sprintf("panic: %v", r)
		}
		report.Duration = p.now().Sub(started)
		if report.Err != "" {
			p.notifier.Alert(ctx, fmt.Sprintf("%s run failed: %s", market.ID, report.Err))
		}
		if err := p.recorder.RecordRun(context.WithoutCancel(ctx), report.Summary()); err != nil {
			log.Error().Err(err).Msg("record run")
		}
		log.Info().Dur("took", report.Duration).Str("err", report.Err).Msg("market run finished")
	}()

	if err := p.run(ctx, &report, log); err != nil {
		log.Error().Err(err).Msg("market run aborted")
		report.Err = err.Error()
	}
	return report
}

func (p *Pipeline) run(ctx context.Context, report *model.MarketReport, log zerolog.Logger) error {
	market := report.Market
	paths := PathsFor(p.cfg.Paths.DataDir, market.ID)
	objectName := backup.ObjectName(market.ID)

	if _, err := backup.Restore(ctx, p.remote, objectName, paths.Store, log); err != nil {
		log.Warn().Err(err).Msg("restore failed, starting from the local state")
	}

	repo, err := p.openStore(paths.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	src, err := p.sources(market)
	if err != nil {
		return err
	}
	listings := listing.NewResolver(src, market, paths.ListingBackup, repo, log).Fetch(ctx)
	report.Listed = len(listings)
	if len(listings) == 0 {
		return fmt.Errorf("no listing available for %s", market.ID)
	}

	var empties *downloader.EmptyList
	if p.cfg.Sync.EmptyPolicy == "exclude" {
		empties, err = downloader.LoadEmptyList(paths.EmptyList, p.cfg.Sync.EmptyExcludeDays)
		if err != nil {
			log.Warn().Err(err).Msg("load empty symbol list, retrying all")
			empties = nil
		}
	}
	dayK := cache.New(paths.Cache, p.cfg.Sync.CacheExpiry)
	pool := downloader.New(p.fetcher, repo, dayK, empties, p.cfg.Sync, p.Runtime, log)
	report.Sync = pool.Sync(ctx, listings, model.SyncMode(p.cfg.Sync.Mode))

	report.Maintenance = maintenance.New(repo, p.remote, objectName,
		p.cfg.Backup.Attempts, p.cfg.Backup.Delay, p.Runtime.AlwaysOptimize, log).Run(ctx, report.Sync)

	if n, err := repo.CountRows(ctx); err != nil {
		log.Warn().Err(err).Msg("count rows")
	} else {
		report.TotalRows = n
	}
	if path := repo.Path(); path != "" {
		if fi, err := os.Stat(path); err == nil {
			report.StoreBytes = fi.Size()
		}
	}

	an := analyzer.New(repo, market, p.cfg.Analysis.MinBars, analyzer.ImageDir(p.cfg.Paths.OutputDir, market.ID), log)
	if p.Runtime.CacheEnabled {
		an.WithCache(dayK)
	}
	res, err := an.Analyze(ctx, listings)
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
	} else {
		report.Charts, report.Rows, report.TextReports = res.Charts, res.Rows, res.TextReports
	}

	report.Emailed = p.notifier.Notify(ctx, *report)
	return nil
}

// Latest returns the most recent recorded run of every market.
func (p *Pipeline) Latest(ctx context.Context) ([]model.RunSummary, error) {
	return p.recorder.Latest(ctx)
}
