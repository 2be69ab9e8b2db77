package model

import "time"

// SyncMode selects the history window requested from the quote provider.
type SyncMode string

const (
	ModeHot  SyncMode = "hot"
	ModeFull SyncMode = "full"
)

// Outcome tags how a single symbol's sync ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeCache   Outcome = "cache"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// SymbolOutcome is what a worker reports back for one symbol.
type SymbolOutcome struct {
	Symbol  string
	Outcome Outcome
	Rows    int
	Changed int64
	Err     error
}

// Failure is one entry of the run's failure list.
type Failure struct {
	Symbol  string  `json:"symbol"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// SyncResult aggregates the outcomes of one market sync.
type SyncResult struct {
	Total       int
	Success     int
	Cache       int
	Empty       int
	Error       int
	Skipped     int
	Failures    []Failure
	RowsChanged int64
	Duration    time.Duration
}

// Add merges one symbol outcome. Not safe for concurrent use.
func (r *SyncResult) Add(o SymbolOutcome) {
	r.Total++
	switch o.Outcome {
	case OutcomeSuccess:
		r.Success++
		r.RowsChanged += o.Changed
	case OutcomeCache:
		r.Cache++
	case OutcomeEmpty:
		r.Empty++
		r.Failures = append(r.Failures, Failure{Symbol: o.Symbol, Outcome: OutcomeEmpty})
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Error++
		f := Failure{Symbol: o.Symbol, Outcome: OutcomeError}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		r.Failures = append(r.Failures, f)
	}
}

// Synced counts symbols whose data is available locally after the run.
func (r SyncResult) Synced() int { return r.Success + r.Cache }

// HasChanged reports whether any stored row was inserted or modified.
func (r SyncResult) HasChanged() bool { return r.RowsChanged > 0 }

// FailedSymbols lists symbols with the given outcome, in failure-list order.
func (r SyncResult) FailedSymbols(o Outcome) []string {
	var out []string
	for _, f := range r.Failures {
		if f.Outcome == o {
			out = append(out, f.Symbol)
		}
	}
	return out
}
