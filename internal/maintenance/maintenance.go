// Package maintenance compacts a market store and ships it to the remote
// backup after a sync.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"MarketWarehouse/internal/backup"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/store"
)

// Maintainer decides whether a sync warrants the expensive steps and runs them.
type Maintainer struct {
	repo           store.Repository
	remote         backup.Remote
	name           string
	attempts       int
	delay          time.Duration
	alwaysOptimize bool
	logger         zerolog.Logger
}

// New creates a Maintainer. remote may be nil when backups are disabled.
func New(repo store.Repository, remote backup.Remote, name string, attempts int, delay time.Duration,
	alwaysOptimize bool, logger zerolog.Logger) *Maintainer {
	if attempts < 1 {
		attempts = 1
	}
	return &Maintainer{
		repo:           repo,
		remote:         remote,
		name:           name,
		attempts:       attempts,
		delay:          delay,
		alwaysOptimize: alwaysOptimize,
		logger:         logger,
	}
}

// Run vacuums and uploads the store when res changed data or the runtime
// always optimizes. Failures are reported in the result, never returned.
func (m *Maintainer) Run(ctx context.Context, res model.SyncResult) model.MaintenanceResult {
	var out model.MaintenanceResult
	if !res.HasChanged() && !m.alwaysOptimize {
		m.logger.Info().Msg("no changes, skipping maintenance")
		return out
	}
	out.Ran = true

	started := time.Now()
	if err := m.repo.Vacuum(ctx); err != nil {
		m.logger.Error().Err(err).Msg("vacuum failed")
		out.Err = err.Error()
		return out
	}
	out.Vacuumed = true
	m.logger.Info().Dur("took", time.Since(started)).Msg("store vacuumed")

	if m.remote == nil || m.repo.Path() == "" {
		return out
	}

	if err := m.upload(ctx); err != nil {
		m.logger.Error().Err(err).Str("remote", m.remote.Name()).Msg("backup upload failed")
		out.Err = err.Error()
		return out
	}
	out.Uploaded = true
	m.logger.Info().Str("remote", m.remote.Name()).Str("name", m.name).Msg("store uploaded")
	return out
}

func (m *Maintainer) upload(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		err := m.remote.Upload(ctx, m.name, m.repo.Path())
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt).Int("of", m.attempts).Msg("upload attempt failed")
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.delay), uint64(m.attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("upload %s after %d attempts: %w", m.name, attempt, err)
	}
	return nil
}
