package analyzer

import (
	"fmt"
	"html"
	"math"
	"strings"

	"MarketWarehouse/internal/model"
)

const (
	binWidth   = 10.0
	rangeLimit = 100.0
	normalBins = 20
)

// Bucket is one histogram row.
type Bucket struct {
	Label  string
	Normal bool // false for the <-100% and >100% rows
	Rows   []model.ReturnRow
}

func (b Bucket) Count() int { return len(b.Rows) }

// Histogram bins one column of the aggregated rows.
type Histogram struct {
	Column string
	Under  Bucket
	Bins   [normalBins]Bucket
	Over   Bucket
	Total  int
}

// BuildHistogram places each row's column value into [lo, lo+10) buckets
// from -100 to 100. Exactly 100 lands in the top bucket; values beyond the
// range go to the >100% and <-100% rows. Rows keep their input order.
func BuildHistogram(rows []model.ReturnRow, column string) Histogram {
	h := Histogram{
		Column: column,
		Under:  Bucket{Label: "<-100%"},
		Over:   Bucket{Label: ">100%"},
	}
	for i := range h.Bins {
		lo := -rangeLimit + float64(i)*binWidth
		h.Bins[i] = Bucket{Label: fmt.Sprintf("%d%%~%d%%", int(lo), int(lo+binWidth)), Normal: true}
	}

	for _, r := range rows {
		v, ok := r.Returns[column]
		if !ok || math.IsNaN(v) {
			continue
		}
		h.Total++
		switch {
		case v > rangeLimit:
			h.Over.Rows = append(h.Over.Rows, r)
		case v < -rangeLimit:
			h.Under.Rows = append(h.Under.Rows, r)
		default:
			h.Bins[binIndex(v)].Rows = append(h.Bins[binIndex(v)].Rows, r)
		}
	}
	return h
}

func binIndex(v float64) int {
	idx := int(math.Floor((v + rangeLimit) / binWidth))
	if idx >= normalBins {
		idx = normalBins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Buckets returns every row in display order: underflow, normal, overflow.
func (h Histogram) Buckets() []Bucket {
	out := make([]Bucket, 0, normalBins+2)
	out = append(out, h.Under)
	out = append(out, h.Bins[:]...)
	return append(out, h.Over)
}

// CountSum adds up every bucket, which always equals Total.
func (h Histogram) CountSum() int {
	n := 0
	for _, b := range h.Buckets() {
		n += b.Count()
	}
	return n
}

// Text renders the bucket-by-bucket symbol list as preformatted HTML. Empty normal buckets are
// left out; the out-of-range rows appear whenever they hold anything.
func (h Histogram) Text(market model.Market) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-12s | %-14s | %s\n", "Range", "Count (share)", "Symbols")
	sb.WriteString(strings.Repeat("-", 100))
	sb.WriteString("\n")

	for _, b := range h.Buckets() {
		if b.Count() == 0 {
			continue
		}
		share := 0.0
		if h.Total > 0 {
			share = float64(b.Count()) / float64(h.Total) * 100
		}
		links := make([]string, len(b.Rows))
		for i, r := range b.Rows {
			links[i] = QuoteLink(market, r)
		}
		fmt.Fprintf(&sb, "%-12s | %4d (%5.1f%%) | %s\n", html.EscapeString(b.Label), b.Count(), share, strings.Join(links, ", "))
	}
	return sb.String()
}

// linkCode is the exchange code used in quote page URLs. Rows without one
// fall back to the ticker without its suffix.
func linkCode(r model.ReturnRow) string {
	if r.Code != "" {
		return r.Code
	}
	code, _, _ := strings.Cut(r.Ticker, ".")
	return code
}

// QuoteLink renders "code (name)" as an anchor to the market quote page.
func QuoteLink(market model.Market, r model.ReturnRow) string {
	code := linkCode(r)
	label := html.EscapeString(fmt.Sprintf("%s (%s)", code, r.DisplayName))
	if market.QuoteURL == "" {
		return label
	}
	href := strings.ReplaceAll(market.QuoteURL, "{code}", code)
	return fmt.Sprintf(`<a href="%s" style="text-decoration:none; color:#0366d6; font-weight:bold;">%s</a>`,
		html.EscapeString(href), label)
}
