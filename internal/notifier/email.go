package notifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"MarketWarehouse/internal/analyzer"
	"MarketWarehouse/internal/model"
)

const rankColumn = "Week_Close"

// EmailSender delivers reports through the Resend HTTP API.
type EmailSender struct {
	APIKey  string
	BaseURL string
	From    string
	To      []string
	Client  *http.Client
}

// NewEmailSender creates a sender; proxyURL may be empty.
func NewEmailSender(apiKey, baseURL, from string, to []string, proxyURL string) *EmailSender {
	return &EmailSender{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		From:    from,
		To:      to,
		Client:  newHTTPClient(proxyURL, 60*time.Second),
	}
}

// Enabled reports whether there is a key and at least one recipient.
func (e *EmailSender) Enabled() bool {
	return e != nil && e.APIKey != "" && len(e.To) > 0
}

type attachment struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	ContentID string `json:"content_id"`
}

type emailRequest struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// SendReport emails one market report with its charts inlined.
func (e *EmailSender) SendReport(ctx context.Context, r model.MarketReport, topN int) error {
	body, err := RenderEmailHTML(r, topN)
	if err != nil {
		return err
	}
	atts, err := chartAttachments(r.Charts)
	if err != nil {
		return err
	}
	return e.post(ctx, emailRequest{
		From:        e.From,
		To:          e.To,
		Subject:     EmailSubject(r),
		HTML:        body,
		Attachments: atts,
	})
}

func (e *EmailSender) post(ctx context.Context, msg emailRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("resend API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// contentID is the inline reference of a chart, its image file name.
func contentID(c model.Chart) string {
	return filepath.Base(c.Path)
}

func chartAttachments(charts []model.Chart) ([]attachment, error) {
	out := make([]attachment, 0, len(charts))
	for _, c := range charts {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, fmt.Errorf("read chart %s: %w", c.ID, err)
		}
		cid := contentID(c)
		out = append(out, attachment{
			Filename:  cid,
			Content:   base64.StdEncoding.EncodeToString(data),
			ContentID: cid,
		})
	}
	return out, nil
}

// TopMovers returns up to n rows ordered by the weekly close move, best first.
func TopMovers(rows []model.ReturnRow, n int) []model.ReturnRow {
	sorted := make([]model.ReturnRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value(rankColumn) > sorted[j].Value(rankColumn)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

type emailChart struct {
	Label string
	CID   string
}

type emailSection struct {
	Title string
	Body  template.HTML
}

type emailView struct {
	Market   string
	Date     string
	Charts   []emailChart
	TopN     int
	Top      template.HTML
	Sections []emailSection
}

var emailTemplate = template.Must(template.New("email").Parse(`<html><body style="font-family:Arial,sans-serif;background:#f4f6f8;padding:16px;">
<div style="max-width:1000px;margin:auto;background:#fff;border-radius:8px;padding:24px;">
<h2 style="margin:0;">{{.Market}} market report</h2>
<p style="color:#666;margin:4px 0 24px;">{{.Date}} · High · Close · Low</p>
{{range .Charts}}<div style="margin-bottom:24px;">
<h3 style="margin:0 0 8px;">{{.Label}}</h3>
<img src="cid:{{.CID}}" style="width:100%;max-width:1000px;" alt="{{.Label}}">
</div>
{{end}}{{if .Top}}<h3>Top {{.TopN}} by weekly close</h3>
<p style="line-height:1.8;">{{.Top}}</p>
{{end}}{{range .Sections}}<h3>{{.Title}}</h3>
<pre style="font-size:12px;white-space:pre-wrap;background:#fafbfc;padding:12px;">{{.Body}}</pre>
{{end}}<p style="color:#999;font-size:12px;margin-top:32px;">Data source: Yahoo Finance</p>
</div></body></html>`))

// RenderEmailHTML builds the report body. Charts are referenced by content id.
func RenderEmailHTML(r model.MarketReport, topN int) (string, error) {
	view := emailView{
		Market: r.Market.Name,
		Date:   r.GeneratedAt.Format("2006-01-02"),
		TopN:   topN,
	}
	for _, c := range r.Charts {
		view.Charts = append(view.Charts, emailChart{Label: c.Label, CID: contentID(c)})
	}

	top := TopMovers(r.Rows, topN)
	links := make([]string, len(top))
	for i, row := range top {
		links[i] = analyzer.QuoteLink(r.Market, row)
	}
	// Links and section bodies are escaped by the analyzer.
	view.Top = template.HTML(strings.Join(links, " | "))
	for _, t := range r.TextReports {
		view.Sections = append(view.Sections, emailSection{Title: t.Title, Body: template.HTML(t.Body)})
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
