// Package analyzer turns stored bars into window returns, histograms,
// charts and text reports.
package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"MarketWarehouse/internal/cache"
	"MarketWarehouse/internal/calculator"
	"MarketWarehouse/internal/model"
	"MarketWarehouse/internal/store"
)

// Window is a lookback period in trading days.
type Window struct {
	Name string
	Days int
}

var Windows = []Window{
	{Name: "Week", Days: 5},
	{Name: "Month", Days: 20},
	{Name: "Year", Days: 250},
}

var kinds = []string{"High", "Close", "Low"}

// Column names a window/kind pair, e.g. Week_High.
func Column(window, kind string) string { return window + "_" + kind }

// Columns lists every aggregated column in display order.
func Columns() []string {
	out := make([]string, 0, len(Windows)*len(kinds))
	for _, w := range Windows {
		for _, k := range kinds {
			out = append(out, Column(w.Name, k))
		}
	}
	return out
}

func columnID(column string) string { return strings.ToLower(column) }

// Result is the analyzer output for one market.
type Result struct {
	Charts      []model.Chart
	Rows        []model.ReturnRow
	TextReports []model.TextReport
}

// Analyzer reads one market store.
type Analyzer struct {
	repo     store.Repository
	market   model.Market
	minBars  int
	imageDir string
	cache    *cache.Dir
	logger   zerolog.Logger
}

// New creates an analyzer writing charts under imageDir.
func New(repo store.Repository, market model.Market, minBars int, imageDir string, logger zerolog.Logger) *Analyzer {
	return &Analyzer{repo: repo, market: market, minBars: minBars, imageDir: imageDir, logger: logger}
}

// WithCache lets bars come from the local cache when the store cannot serve them.
func (a *Analyzer) WithCache(dir *cache.Dir) *Analyzer {
	a.cache = dir
	return a
}

// Analyze aggregates every listed symbol with at least minBars bars, keeping
// listing order.
func (a *Analyzer) Analyze(ctx context.Context, listings []model.Listing) (Result, error) {
	rows, err := a.Rows(ctx, listings)
	if err != nil {
		return Result{}, err
	}
	res := Result{Rows: rows}
	if len(rows) == 0 {
		a.logger.Warn().Msg("no symbols with enough history to analyze")
		return res, nil
	}

	for _, w := range Windows {
		for _, k := range kinds {
			col := Column(w.Name, k)
			h := BuildHistogram(rows, col)
			title := fmt.Sprintf("%s %s return distribution (%s, n=%d)", w.Name, k, a.market.ID, h.Total)
			path, err := writeChart(a.imageDir, h, title, k)
			if err != nil {
				a.logger.Error().Err(err).Str("column", col).Msg("render chart")
				continue
			}
			res.Charts = append(res.Charts, model.Chart{
				ID:    columnID(col),
				Label: w.Name + " " + k,
				Path:  path,
			})
		}

		h := BuildHistogram(rows, Column(w.Name, "High"))
		res.TextReports = append(res.TextReports, model.TextReport{
			Window: w.Name,
			Title:  fmt.Sprintf("%s High: 10%% buckets", w.Name),
			Body:   h.Text(a.market),
		})
	}

	a.logger.Info().Int("rows", len(rows)).Int("charts", len(res.Charts)).Msg("analysis finished")
	return res, nil
}

// Rows computes the return row of every qualifying listed symbol.
func (a *Analyzer) Rows(ctx context.Context, listings []model.Listing) ([]model.ReturnRow, error) {
	names := a.storedNames(ctx)

	need := a.minBars
	if longest := Windows[len(Windows)-1].Days + 1; need < longest {
		need = longest
	}

	seen := make(map[string]bool, len(listings))
	var rows []model.ReturnRow
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[l.Symbol] {
			continue
		}
		seen[l.Symbol] = true

		bars, err := a.bars(ctx, l.Symbol, need)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", l.Symbol).Msg("load bars")
			continue
		}
		if len(bars) < a.minBars {
			continue
		}
		if l.DisplayName == "" {
			l.DisplayName = names[l.Symbol]
		}
		rows = append(rows, ReturnRow(l, bars))
	}
	return rows, nil
}

// storedNames maps symbols to the names kept in the store. A listing loaded
// from an older backup may lack names.
func (a *Analyzer) storedNames(ctx context.Context) map[string]string {
	records, err := a.repo.Symbols(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("list stored symbols")
		return nil
	}
	names := make(map[string]string, len(records))
	for _, r := range records {
		names[r.Symbol] = r.Name
	}
	return names
}

func (a *Analyzer) bars(ctx context.Context, symbol string, n int) ([]model.PriceBar, error) {
	bars, err := a.repo.RecentBars(ctx, symbol, n)
	if err == nil || a.cache == nil {
		return bars, err
	}
	cached, cerr := a.cache.Read(symbol)
	if cerr != nil {
		return nil, err
	}
	if len(cached) > n {
		cached = cached[len(cached)-n:]
	}
	return cached, nil
}

// ReturnRow computes every window column for one symbol.
func ReturnRow(l model.Listing, bars []model.PriceBar) model.ReturnRow {
	row := model.ReturnRow{
		Ticker:      l.Symbol,
		Code:        l.Code,
		DisplayName: l.DisplayName,
		Returns:     make(map[string]float64, len(Windows)*len(kinds)),
	}
	for _, w := range Windows {
		m := calculator.WindowMove(bars, w.Days)
		row.Returns[Column(w.Name, "High")] = m.High
		row.Returns[Column(w.Name, "Close")] = m.Close
		row.Returns[Column(w.Name, "Low")] = m.Low
	}
	return row
}

// ImageDir is where a market's charts are written.
func ImageDir(outputDir, marketID string) string {
	return filepath.Join(outputDir, "images", marketID)
}
