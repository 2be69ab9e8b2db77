// Package store persists price bars and symbol metadata, one database per market.
package store

import (
	"context"

	"MarketWarehouse/internal/model"
)

// Repository is the persistence contract the pipeline depends on.
// Writes are idempotent upserts: repeating a bar with the same (date, symbol)
// replaces it in place and never appends a duplicate.
type Repository interface {
	// UpsertPriceBars writes bars in one transaction and returns how many rows
	// were inserted or had their values changed.
	UpsertPriceBars(ctx context.Context, bars []model.PriceBar) (int64, error)
	UpsertSymbols(ctx context.Context, records []model.SymbolRecord) error
	Symbols(ctx context.Context) ([]model.SymbolRecord, error)
	// RecentBars returns up to n most recent bars of symbol in chronological order.
	RecentBars(ctx context.Context, symbol string, n int) ([]model.PriceBar, error)
	CountRows(ctx context.Context) (int64, error)
	Vacuum(ctx context.Context) error
	// Path is the database file, empty for stores without one.
	Path() string
	Close() error
}
