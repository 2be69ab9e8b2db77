// Package recorder keeps a history of market runs for status queries.
package recorder

import (
	"context"

	"MarketWarehouse/internal/model"
)

// Recorder persists run summaries.
type Recorder interface {
	RecordRun(ctx context.Context, run model.RunSummary) error
	// Latest returns the most recent run of every market, ordered by market.
	Latest(ctx context.Context) ([]model.RunSummary, error)
	Close() error
}
