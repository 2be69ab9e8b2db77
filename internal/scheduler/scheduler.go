package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/notifier"
)

// Runner is the part of the pipeline the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context) []model.MarketReport
	RunMarket(ctx context.Context, market model.Market) model.MarketReport
	Latest(ctx context.Context) ([]model.RunSummary, error)
}

// MarketLookup resolves a market id from a command argument.
type MarketLookup func(id string) (model.Market, bool)

// Scheduler manages the cron job and bot commands.
type Scheduler struct {
	Cron    *cron.Cron
	Runner  Runner
	Markets MarketLookup
	Ctx     context.Context

	running atomic.Bool
	logger  zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, runner Runner, markets MarketLookup, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Runner:  runner,
		Markets: markets,
		Ctx:     ctx,
		logger:  logger,
	}
}

// Register adds the daily sync job.
func (s *Scheduler) Register(dailyCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, func() { s.RunNow("") }); err != nil {
		return fmt.Errorf("register daily task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow runs one market, or all enabled markets when id is empty. It
// returns false without running when a run is already in progress.
func (s *Scheduler) RunNow(id string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Str("market", id).Msg("run already in progress, skipping")
		return false
	}
	defer s.running.Store(false)

	if id == "" {
		s.Runner.RunAll(s.Ctx)
		return true
	}
	m, ok := s.Markets(id)
	if !ok {
		s.logger.Error().Str("market", id).Msg("unknown market")
		return true
	}
	s.Runner.RunMarket(s.Ctx, m)
	return true
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// HandleCommand processes a bot command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	// Group chats address bots as /cmd@BotName.
	cmd, _, _ := strings.Cut(fields[0], "@")

	switch cmd {
	case "/run":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
			if _, ok := s.Markets(id); !ok {
				return fmt.Sprintf("Unknown market %q.", id)
			}
		}
		if s.Running() {
			return "A run is already in progress."
		}
		go s.RunNow(id)
		if id == "" {
			return "Started a run of all markets."
		}
		return fmt.Sprintf("Started a run of %s.", id)
	case "/status":
		runs, err := s.Runner.Latest(s.Ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("load run history")
			return "Could not load run history."
		}
		return notifier.FormatStatus(runs)
	default:
		return notifier.FormatHelp()
	}
}
