package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/store"
)

// Resolver wraps a Source with the last-known-good backup file and the
// stock_info side effects. It never fails: the worst case is an empty listing.
type Resolver struct {
	Source     Source
	Market     model.Market
	BackupPath string
	Repo       store.Repository
	Logger     zerolog.Logger
	now        func() time.Time
}

func NewResolver(src Source, market model.Market, backupPath string, repo store.Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{
		Source:     src,
		Market:     market,
		BackupPath: backupPath,
		Repo:       repo,
		Logger:     logger,
		now:        time.Now,
	}
}

// Fetch returns the market's listing, falling back to the backup file when
// the source fails or returns fewer than the market's minimum.
func (r *Resolver) Fetch(ctx context.Context) []model.Listing {
	items, err := r.Source.Fetch(ctx)
	switch {
	case err != nil:
		r.Logger.Warn().Err(err).Msg("listing fetch failed, using backup")
		return r.loadBackup()
	case len(items) == 0 || len(items) < r.Market.MinListing:
		r.Logger.Warn().Int("count", len(items)).Int("min", r.Market.MinListing).
			Msg("listing below minimum, using backup")
		return r.loadBackup()
	}

	records := make([]model.SymbolRecord, len(items))
	for i, l := range items {
		records[i] = model.RecordFor(l, r.now())
	}
	if err := r.Repo.UpsertSymbols(ctx, records); err != nil {
		r.Logger.Error().Err(err).Msg("save symbol metadata")
	}
	if err := r.saveBackup(items); err != nil {
		r.Logger.Error().Err(err).Msg("write listing backup")
	}
	r.Logger.Info().Int("count", len(items)).Msg("listing updated")
	return items
}

func (r *Resolver) loadBackup() []model.Listing {
	data, err := os.ReadFile(r.BackupPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.Logger.Error().Err(err).Msg("read listing backup")
		} else {
			r.Logger.Warn().Msg("no listing backup available")
		}
		return nil
	}
	var items []model.Listing
	if err := json.Unmarshal(data, &items); err != nil {
		r.Logger.Error().Err(err).Msg("decode listing backup")
		return nil
	}
	r.Logger.Info().Int("count", len(items)).Msg("listing loaded from backup")
	return items
}

func (r *Resolver) saveBackup(items []model.Listing) error {
	if err := os.MkdirAll(filepath.Dir(r.BackupPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode listing backup: %w", err)
	}
	tmp := r.BackupPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.BackupPath)
}
