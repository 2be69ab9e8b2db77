package model

import "time"

// ReturnRow holds the window-relative percentage moves of one symbol.
type ReturnRow struct {
	Ticker      string
	Code        string // exchange code used in quote links, e.g. 00700
	DisplayName string
	Returns     map[string]float64 // keyed by column, e.g. "Week_High"
}

// Value returns the named column, zero when absent.
func (r ReturnRow) Value(column string) float64 {
	return r.Returns[column]
}

// Chart is a rendered histogram image.
type Chart struct {
	ID    string // column in lower case, also the inline content id stem
	Label string
	Path  string
}

// TextReport is the bucket-by-bucket symbol breakdown of one window.
type TextReport struct {
	Window string
	Title  string
	Body   string
}

// MaintenanceResult records what the change detector decided and did.
type MaintenanceResult struct {
	Ran      bool
	Vacuumed bool
	Uploaded bool
	Err      string
}

// MarketReport is everything the notifier needs about one market run.
type MarketReport struct {
	RunID       string
	Market      Market
	GeneratedAt time.Time
	Listed      int
	Sync        SyncResult
	Maintenance MaintenanceResult
	TotalRows   int64
	StoreBytes  int64
	Charts      []Chart
	Rows        []ReturnRow
	TextReports []TextReport
	Emailed     bool
	Err         string // set when the run was aborted
	Duration    time.Duration
}

// Coverage is synced symbols over the market's expected minimum (or the listing size).
func (r MarketReport) Coverage() float64 {
	denom := r.Market.MinExpected
	if denom <= 0 {
		denom = r.Listed
	}
	if denom <= 0 {
		return 0
	}
	return float64(r.Sync.Synced()) / float64(denom) * 100
}

// RunSummary is the persisted digest of one market run.
type RunSummary struct {
	RunID       string
	Market      string
	StartedAt   time.Time
	Listed      int
	Success     int
	Cache       int
	Empty       int
	Error       int
	Skipped     int
	Coverage    float64
	RowsChanged int64
	TotalRows   int64
	StoreBytes  int64
	Maintenance bool
	Uploaded    bool
	Emailed     bool
	Err         string
	Duration    time.Duration
}

// Summary digests the report for run history.
func (r MarketReport) Summary() RunSummary {
	return RunSummary{
		RunID:       r.RunID,
		Market:      r.Market.ID,
		StartedAt:   r.GeneratedAt,
		Listed:      r.Listed,
		Success:     r.Sync.Success,
		Cache:       r.Sync.Cache,
		Empty:       r.Sync.Empty,
		Error:       r.Sync.Error,
		Skipped:     r.Sync.Skipped,
		Coverage:    r.Coverage(),
		RowsChanged: r.Sync.RowsChanged,
		TotalRows:   r.TotalRows,
		StoreBytes:  r.StoreBytes,
		Maintenance: r.Maintenance.Ran,
		Uploaded:    r.Maintenance.Uploaded,
		Emailed:     r.Emailed,
		Err:         r.Err,
		Duration:    r.Duration,
	}
}
