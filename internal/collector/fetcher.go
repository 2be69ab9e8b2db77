package collector

import (
	"context"
	"errors"
	"time"

	"MarketWarehouse/internal/model"
)

// ErrRateLimited is returned when the provider asks the client to slow down.
var ErrRateLimited = errors.New("provider rate limited")

// Fetcher defines the interface for fetching daily price history.
// An unknown or delisted symbol yields an empty slice and a nil error.
type Fetcher interface {
	FetchHistory(ctx context.Context, symbol string, start time.Time) ([]model.PriceBar, error)
	Name() string
}
