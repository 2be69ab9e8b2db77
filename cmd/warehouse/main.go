package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "time/tzdata"

	"github.com/rs/zerolog"

	"MarketWarehouse/internal/backup"
	"MarketWarehouse/internal/config"
	"MarketWarehouse/internal/logging"
	"MarketWarehouse/internal/pipeline"
	"MarketWarehouse/internal/recorder"
	"MarketWarehouse/internal/scheduler"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config validation")
	}
	rt := cfg.Runtime()
	logger.Info().
		Str("environment", cfg.Environment).
		Int("workers", rt.WorkerPoolSize).
		Bool("cache", rt.CacheEnabled).
		Str("mode", cfg.Sync.Mode).
		Msg("MarketWarehouse starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remote, err := backup.New(ctx, cfg.Backup)
	if err != nil {
		logger.Fatal().Err(err).Msg("init backup remote")
	}
	if remote != nil {
		logger.Info().Str("remote", remote.Name()).Msg("store backups enabled")
	}

	rec := openRecorder(cfg, logger)
	defer rec.Close()

	notify := pipeline.DefaultNotifier(cfg, logger)
	p := pipeline.New(cfg, pipeline.Deps{Remote: remote, Notifier: notify, Recorder: rec}, logger)

	if os.Getenv("RUN_ONCE") == "true" || rt.Cloud {
		if !runOnce(ctx, p, logger) {
			rec.Close()
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewScheduler(ctx, p, cfg.Market, logger)
	if err := sched.Register(cfg.Schedule.DailyCron); err != nil {
		logger.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if notify.Telegram.Enabled() {
		go notify.Telegram.StartPolling(ctx, sched.HandleCommand)
		logger.Info().Msg("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		logger.Info().Msg("RUN_ON_START enabled, running all markets now")
		go sched.RunNow("")
	}

	logger.Info().Str("cron", cfg.Schedule.DailyCron).Msg("MarketWarehouse is running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping")
}

// runOnce reports false when every market failed.
func runOnce(ctx context.Context, p *pipeline.Pipeline, logger zerolog.Logger) bool {
	reports := p.RunAll(ctx)
	failed := 0
	for _, r := range reports {
		if r.Err != "" {
			failed++
		}
	}
	logger.Info().Int("markets", len(reports)).Int("failed", failed).Msg("run finished")
	return len(reports) == 0 || failed < len(reports)
}

func openRecorder(cfg *config.Config, logger zerolog.Logger) recorder.Recorder {
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(cfg.Paths.DataDir, "run_history.db"), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("run history unavailable, keeping it in memory")
		return recorder.NewMemoryRecorder()
	}
	return rec
}
