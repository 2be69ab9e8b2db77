package model

import "time"

// Market describes one exchange the warehouse tracks.
type Market struct {
	ID          string `yaml:"id" validate:"required,oneof=tw-share us-share hk-share kr-share"`
	Name        string `yaml:"name" validate:"required"`
	Emoji       string `yaml:"emoji"`
	Enabled     bool   `yaml:"enabled"`
	QuoteURL    string `yaml:"quote_url"`    // link template, {code} is replaced by the listing code
	MinListing  int    `yaml:"min_listing"`  // fewer entries than this means the listing fetch is unreliable
	MinExpected int    `yaml:"min_expected"` // denominator for coverage, 0 uses the listing size
}

// PriceBar is one day's OHLCV record for a symbol.
type PriceBar struct {
	Date   string  `db:"date" validate:"required,datetime=2006-01-02"`
	Symbol string  `db:"symbol" validate:"required"`
	Open   float64 `db:"open" validate:"gte=0"`
	High   float64 `db:"high" validate:"gtefield=Low"`
	Low    float64 `db:"low" validate:"gte=0"`
	Close  float64 `db:"close" validate:"gt=0"`
	Volume int64   `db:"volume" validate:"gte=0"`
}

// Listing is one tradable instrument as reported by a market's listing source.
type Listing struct {
	Code        string `json:"code"`   // exchange code, e.g. 2330, 00700, 005930, AAPL
	Symbol      string `json:"symbol"` // provider ticker, e.g. 2330.TW, 0700.HK
	DisplayName string `json:"name"`
	Sector      string `json:"sector,omitempty"`
	Board       string `json:"board,omitempty"`
}

// SymbolRecord is the persisted symbol metadata row.
type SymbolRecord struct {
	Symbol    string `db:"symbol"`
	Name      string `db:"name"`
	Sector    string `db:"sector"`
	UpdatedAt string `db:"updated_at"`
}

// RecordFor builds the metadata row for a listing entry.
func RecordFor(l Listing, now time.Time) SymbolRecord {
	return SymbolRecord{
		Symbol:    l.Symbol,
		Name:      l.DisplayName,
		Sector:    l.Sector,
		UpdatedAt: now.Format("2006-01-02"),
	}
}
