package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"MarketWarehouse/internal/model"
)

const twseISINURL = "https://isin.twse.com.tw/isin/C_public.jsp"

var (
	twCodeHeader   = regexp.MustCompile(`有價證券代號`)
	twCFIHeader    = regexp.MustCompile(`(?i)CFI`)
	twSectorHeader = regexp.MustCompile(`產業別`)
)

type twBoard struct {
	mode   string
	suffix string
	name   string
}

var twBoards = []twBoard{
	{mode: "2", suffix: ".TW", name: "TWSE"},
	{mode: "4", suffix: ".TWO", name: "TPEx"},
}

// TWSESource scrapes the TWSE ISIN pages of listed and OTC securities.
type TWSESource struct {
	Client  *http.Client
	BaseURL string
}

func NewTWSESource(client *http.Client) *TWSESource {
	return &TWSESource{Client: client, BaseURL: twseISINURL}
}

func (s *TWSESource) Fetch(ctx context.Context) ([]model.Listing, error) {
	var out []model.Listing
	for _, b := range twBoards {
		body, err := get(ctx, s.Client, s.BaseURL+"?strMode="+b.mode)
		if err != nil {
			return nil, err
		}
		items, err := parseTWSE(body, b)
		if err != nil {
			return nil, fmt.Errorf("parse %s listing: %w", b.name, err)
		}
		out = append(out, items...)
	}
	return dedupe(out), nil
}

// parseTWSE reads a Big5 ISIN page. Code and name share one cell separated
// by an ideographic space; section rows span the whole table and are skipped.
func parseTWSE(body []byte, b twBoard) ([]model.Listing, error) {
	r := transform.NewReader(bytes.NewReader(body), traditionalchinese.Big5.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, cells)
	})

	hdr, ok := findHeader(rows, 10, twCodeHeader)
	if !ok {
		return nil, fmt.Errorf("header row not found")
	}
	codeCol := columnOf(rows[hdr], twCodeHeader)
	cfiCol := columnOf(rows[hdr], twCFIHeader)
	sectorCol := columnOf(rows[hdr], twSectorHeader)

	var out []model.Listing
	for _, row := range rows[hdr+1:] {
		if len(row) < 2 {
			continue
		}
		code, name := splitCodeName(cell(row, codeCol))
		if code == "" || name == "" {
			continue
		}
		if !strings.HasPrefix(cell(row, cfiCol), "ES") || !IsCommonStock(name) {
			continue
		}
		out = append(out, model.Listing{
			Code:        code,
			Symbol:      code + b.suffix,
			DisplayName: name,
			Sector:      cell(row, sectorCol),
			Board:       b.name,
		})
	}
	return out, nil
}

func splitCodeName(s string) (string, string) {
	if code, name, ok := strings.Cut(s, "\u3000"); ok {
		return strings.TrimSpace(code), strings.TrimSpace(name)
	}
	f := strings.Fields(s)
	if len(f) < 2 {
		return "", ""
	}
	return f[0], strings.Join(f[1:], " ")
}
