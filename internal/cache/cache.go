// Package cache keeps one CSV file of daily bars per symbol.
package cache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"MarketWarehouse/internal/model"
)

var header = []string{"date", "open", "high", "low", "close", "volume"}

// Dir is a per-market directory of symbol files. Each symbol owns exactly one
// file, so concurrent workers never touch the same path.
type Dir struct {
	root   string
	expiry time.Duration
	now    func() time.Time
}

// New returns a cache rooted at root whose files expire after expiry.
func New(root string, expiry time.Duration) *Dir {
	return &Dir{root: root, expiry: expiry, now: time.Now}
}

// Root returns the cache directory.
func (d *Dir) Root() string { return d.root }

// Path returns the file used for symbol.
func (d *Dir) Path(symbol string) string {
	return filepath.Join(d.root, safeName(symbol)+".csv")
}

// IsFresh reports whether symbol has a file younger than the expiry.
func (d *Dir) IsFresh(symbol string) bool {
	info, err := os.Stat(d.Path(symbol))
	if err != nil {
		return false
	}
	return d.now().Sub(info.ModTime()) < d.expiry
}

// Write replaces symbol's file with bars.
func (d *Dir) Write(symbol string, bars []model.PriceBar) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	path := d.Path(symbol)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Date,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write cache row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads symbol's bars. Columns are matched by header name.
func (d *Dir) Read(symbol string) ([]model.PriceBar, error) {
	f, err := os.Open(d.Path(symbol))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("cache file has no header")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, h := range header {
		if _, ok := idx[h]; !ok {
			return nil, fmt.Errorf("cache file missing column %q", h)
		}
	}

	bars := make([]model.PriceBar, 0, len(rows)-1)
	for _, r := range rows[1:] {
		b := model.PriceBar{Date: r[idx["date"]], Symbol: symbol}
		b.Open, _ = strconv.ParseFloat(r[idx["open"]], 64)
		b.High, _ = strconv.ParseFloat(r[idx["high"]], 64)
		b.Low, _ = strconv.ParseFloat(r[idx["low"]], 64)
		b.Close, _ = strconv.ParseFloat(r[idx["close"]], 64)
		vol, _ := strconv.ParseFloat(r[idx["volume"]], 64)
		b.Volume = int64(vol)
		bars = append(bars, b)
	}
	return bars, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
