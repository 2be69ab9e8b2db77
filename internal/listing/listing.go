// Package listing fetches the tradable common stocks of each market.
package listing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"MarketWarehouse/internal/model"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// Source returns the current listing of one market.
type Source interface {
	Fetch(ctx context.Context) ([]model.Listing, error)
}

// ForMarket returns the listing source of a market id.
func ForMarket(id string, client *http.Client) (Source, error) {
	switch id {
	case "tw-share":
		return NewTWSESource(client), nil
	case "us-share":
		return NewNasdaqSource(client), nil
	case "hk-share":
		return NewHKEXSource(client), nil
	case "kr-share":
		return NewKRXSource(client), nil
	default:
		return nil, fmt.Errorf("no listing source for market %q", id)
	}
}

var (
	denyWords = regexp.MustCompile(`(?i)\b(WARRANTS?|ETFS?|ETNS?|REITS?|PREFERRED|RIGHTS?|TRUST|BONDS?|FUNDS?|UNITS?|DEPOSITARY|ADRS?|FOREIGN|DEBENTURES?|CBBCS?)\b`)
	denyCJK   = []string{"牛熊", "權證", "輪證", "特別股", "受益"}
)

// IsCommonStock reports whether a security name passes the denylist.
// Latin keywords match whole words so names like "UnitedHealth" survive.
func IsCommonStock(name string) bool {
	if denyWords.MatchString(name) {
		return false
	}
	for _, kw := range denyCJK {
		if strings.Contains(name, kw) {
			return false
		}
	}
	return true
}

// findHeader returns the first row within limit rows where every pattern
// matches some cell.
func findHeader(rows [][]string, limit int, patterns ...*regexp.Regexp) (int, bool) {
	for i := 0; i < len(rows) && i < limit; i++ {
		all := true
		for _, p := range patterns {
			if columnOf(rows[i], p) < 0 {
				all = false
				break
			}
		}
		if all {
			return i, true
		}
	}
	return -1, false
}

// columnOf returns the index of the first cell matching p, or -1.
func columnOf(header []string, p *regexp.Regexp) int {
	for i, h := range header {
		if p.MatchString(strings.ReplaceAll(h, "\u00a0", " ")) {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// dedupe keeps the first entry of every symbol, preserving order.
func dedupe(in []model.Listing) []model.Listing {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, l := range in {
		if l.Symbol == "" || seen[l.Symbol] {
			continue
		}
		seen[l.Symbol] = true
		out = append(out, l)
	}
	return out
}

func download(ctx context.Context, client *http.Client, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return download(ctx, client, req)
}
