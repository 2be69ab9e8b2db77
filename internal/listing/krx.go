package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"MarketWarehouse/internal/model"
)

const krxDataURL = "http://data.krx.co.kr/comm/bldAttendant/getJsonData.cmd"

const krxCommonShare = "보통주"

type krBoard struct {
	mktID  string
	suffix string
	name   string
}

var krBoards = []krBoard{
	{mktID: "STK", suffix: ".KS", name: "KOSPI"},
	{mktID: "KSQ", suffix: ".KQ", name: "KOSDAQ"},
}

// KRXSource queries the KRX market data listing endpoint for KOSPI and KOSDAQ.
type KRXSource struct {
	Client *http.Client
	URL    string
}

func NewKRXSource(client *http.Client) *KRXSource {
	return &KRXSource{Client: client, URL: krxDataURL}
}

type krxResponse struct {
	OutBlock1 []struct {
		Code   string `json:"ISU_SRT_CD"`
		Name   string `json:"ISU_ABBRV"`
		Market string `json:"MKT_TP_NM"`
		Sector string `json:"SECT_TP_NM"`
		Kind   string `json:"KIND_STKCERT_TP_NM"`
	} `json:"OutBlock_1"`
}

func (s *KRXSource) Fetch(ctx context.Context) ([]model.Listing, error) {
	var out []model.Listing
	for _, b := range krBoards {
		form := url.Values{
			"bld":         {"dbms/MDC/STAT/standard/MDCSTAT01901"},
			"locale":      {"ko_KR"},
			"mktId":       {b.mktID},
			"share":       {"1"},
			"csvxls_isNo": {"false"},
		}
		req, err := http.NewRequest(http.MethodPost, s.URL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("Referer", "http://data.krx.co.kr/contents/MDC/MDI/mdiLoader")

		body, err := download(ctx, s.Client, req)
		if err != nil {
			return nil, err
		}
		items, err := parseKRX(body, b)
		if err != nil {
			return nil, fmt.Errorf("parse %s listing: %w", b.name, err)
		}
		out = append(out, items...)
	}
	return dedupe(out), nil
}

// parseKRX keeps common shares only. Preferred classes end in a non-zero digit.
func parseKRX(body []byte, b krBoard) ([]model.Listing, error) {
	var resp krxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []model.Listing
	for _, it := range resp.OutBlock1 {
		code := strings.TrimSpace(it.Code)
		if len(code) != 6 || !strings.HasSuffix(code, "0") {
			continue
		}
		if it.Kind != "" && it.Kind != krxCommonShare {
			continue
		}
		name := strings.TrimSpace(it.Name)
		if !IsCommonStock(name) {
			continue
		}
		out = append(out, model.Listing{
			Code:        code,
			Symbol:      code + b.suffix,
			DisplayName: name,
			Sector:      strings.TrimSpace(it.Sector),
			Board:       b.name,
		})
	}
	return out, nil
}
