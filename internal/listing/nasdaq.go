package listing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"MarketWarehouse/internal/model"
)

const nasdaqTraderURL = "https://www.nasdaqtrader.com/dynamic/SymDir"

var (
	usSymbolHeader = regexp.MustCompile(`^(Symbol|NASDAQ Symbol)$`)
	usNameHeader   = regexp.MustCompile(`^Security Name$`)
	usTestHeader   = regexp.MustCompile(`^Test Issue$`)
	usETFHeader    = regexp.MustCompile(`^ETF$`)
	usExchHeader   = regexp.MustCompile(`^Exchange$`)
)

var usExchanges = map[string]string{
	"A": "NYSE American",
	"N": "NYSE",
	"P": "NYSE Arca",
	"Z": "Cboe BZX",
	"V": "IEX",
}

// NasdaqSource reads the nasdaqtrader symbol directory files.
type NasdaqSource struct {
	Client  *http.Client
	BaseURL string
}

func NewNasdaqSource(client *http.Client) *NasdaqSource {
	return &NasdaqSource{Client: client, BaseURL: nasdaqTraderURL}
}

func (s *NasdaqSource) Fetch(ctx context.Context) ([]model.Listing, error) {
	var out []model.Listing
	for _, file := range []string{"nasdaqlisted.txt", "otherlisted.txt"} {
		body, err := get(ctx, s.Client, s.BaseURL+"/"+file)
		if err != nil {
			return nil, err
		}
		items, err := parseNasdaq(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		out = append(out, items...)
	}
	return dedupe(out), nil
}

// parseNasdaq reads a pipe-delimited symbol directory file. Columns are
// looked up by header name since the two files order them differently.
func parseNasdaq(body []byte) ([]model.Listing, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	hdr, ok := findHeader(rows, 1, usSymbolHeader, usNameHeader)
	if !ok {
		return nil, fmt.Errorf("header row not found")
	}
	symCol := columnOf(rows[hdr], usSymbolHeader)
	nameCol := columnOf(rows[hdr], usNameHeader)
	testCol := columnOf(rows[hdr], usTestHeader)
	etfCol := columnOf(rows[hdr], usETFHeader)
	exchCol := columnOf(rows[hdr], usExchHeader)

	var out []model.Listing
	for _, row := range rows[hdr+1:] {
		code := cell(row, symCol)
		if code == "" || strings.HasPrefix(code, "File Creation Time") {
			continue
		}
		name := cell(row, nameCol)
		if cell(row, testCol) != "N" || cell(row, etfCol) == "Y" || !IsCommonStock(name) {
			continue
		}
		board := "NASDAQ"
		if exchCol >= 0 {
			board = usExchanges[cell(row, exchCol)]
		}
		out = append(out, model.Listing{
			Code:        code,
			Symbol:      usTicker(code),
			DisplayName: name,
			Board:       board,
		})
	}
	return out, nil
}

// usTicker maps directory notation (BRK.B, ABR$D) to provider notation.
func usTicker(code string) string {
	return strings.NewReplacer("$", "-", ".", "-").Replace(code)
}
