// Package backup copies market store files to and from a remote location.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"MarketWarehouse/internal/config"
)

// ErrNotFound is returned when no remote object has the requested name.
var ErrNotFound = errors.New("backup not found")

// Remote is a flat namespace of named files.
type Remote interface {
	// Find returns the id of the object called name, or ErrNotFound.
	Find(ctx context.Context, name string) (string, error)
	// Upload creates name from the file at path, replacing any existing object.
	Upload(ctx context.Context, name, path string) error
	// Download copies object id to dest.
	Download(ctx context.Context, id, dest string) error
	Name() string
}

// New returns the Remote selected by cfg, or nil when backups are disabled.
func New(ctx context.Context, cfg config.BackupConfig) (Remote, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "file":
		r, err := NewFileRemote(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "drive":
		r, err := NewDriveRemote(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown backup provider %q", cfg.Provider)
	}
}

// ObjectName is the remote name of a market's store file.
func ObjectName(marketID string) string {
	return marketID + "_stock_warehouse.db"
}

// Restore downloads the named backup to dest when dest does not exist yet.
// It reports whether a file was restored. A missing backup is not an error.
func Restore(ctx context.Context, remote Remote, name, dest string, logger zerolog.Logger) (bool, error) {
	if remote == nil {
		return false, nil
	}
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}

	id, err := remote.Find(ctx, name)
	if errors.Is(err, ErrNotFound) {
		logger.Info().Str("name", name).Msg("no remote backup, starting with an empty store")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find backup %s: %w", name, err)
	}

	if err := remote.Download(ctx, id, dest); err != nil {
		os.Remove(dest)
		return false, fmt.Errorf("download backup %s: %w", name, err)
	}
	logger.Info().Str("name", name).Str("remote", remote.Name()).Msg("store restored from backup")
	return true, nil
}
