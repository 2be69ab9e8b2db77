package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"MarketWarehouse/internal/model"
)

const hkexListURL = "https://www.hkex.com.hk/eng/services/trading/securities/securitieslists/ListOfSecurities.xlsx"

var (
	hkCodeHeader     = regexp.MustCompile(`(?i)stock\s*code`)
	hkNameHeader     = regexp.MustCompile(`(?i)(short\s*name|name\s*of\s*securities)`)
	hkCategoryHeader = regexp.MustCompile(`(?i)^category$`)
	hkSubCatHeader   = regexp.MustCompile(`(?i)sub-?\s*category`)
	nonDigits        = regexp.MustCompile(`\D`)
)

// HKEXSource reads the HKEX list of securities spreadsheet.
type HKEXSource struct {
	Client *http.Client
	URL    string
}

func NewHKEXSource(client *http.Client) *HKEXSource {
	return &HKEXSource{Client: client, URL: hkexListURL}
}

func (s *HKEXSource) Fetch(ctx context.Context) ([]model.Listing, error) {
	body, err := get(ctx, s.Client, s.URL)
	if err != nil {
		return nil, err
	}
	items, err := parseHKEX(body)
	if err != nil {
		return nil, fmt.Errorf("parse hkex listing: %w", err)
	}
	return dedupe(items), nil
}

func parseHKEX(body []byte) ([]model.Listing, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	hdr, ok := findHeader(rows, 30, hkCodeHeader, hkNameHeader)
	if !ok {
		return nil, fmt.Errorf("header row not found")
	}
	codeCol := columnOf(rows[hdr], hkCodeHeader)
	nameCol := columnOf(rows[hdr], hkNameHeader)
	catCol := columnOf(rows[hdr], hkCategoryHeader)
	subCol := columnOf(rows[hdr], hkSubCatHeader)

	var out []model.Listing
	for _, row := range rows[hdr+1:] {
		name := cell(row, nameCol)
		if name == "" || !IsCommonStock(name) {
			continue
		}
		if catCol >= 0 && !strings.EqualFold(cell(row, catCol), "Equity") {
			continue
		}
		code5, code4 := hkCodes(cell(row, codeCol))
		if code5 == "" {
			continue
		}
		out = append(out, model.Listing{
			Code:        code5,
			Symbol:      code4 + ".HK",
			DisplayName: name,
			Sector:      cell(row, subCol),
			Board:       "HKEX",
		})
	}
	return out, nil
}

// hkCodes returns the 5-digit exchange code and the 4-digit provider code.
func hkCodes(raw string) (string, string) {
	digits := nonDigits.ReplaceAllString(raw, "")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return "", ""
	}
	return fmt.Sprintf("%05d", n), fmt.Sprintf("%04d", n)
}
