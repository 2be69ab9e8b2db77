package analyzer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var kindColors = map[string]drawing.Color{
	"High":  drawing.ColorFromHex("28a745"),
	"Close": drawing.ColorFromHex("007bff"),
	"Low":   drawing.ColorFromHex("dc3545"),
}

var peakColor = drawing.ColorFromHex("8b0000")

// RenderHistogram draws h as a PNG bar chart. The tallest bar is drawn in
// dark red with its label marked. Out-of-range bars only appear when non-empty.
func RenderHistogram(h Histogram, title, kind string) ([]byte, error) {
	if h.Total == 0 {
		return nil, fmt.Errorf("no data for %s", h.Column)
	}

	var buckets []Bucket
	if h.Under.Count() > 0 {
		buckets = append(buckets, h.Under)
	}
	buckets = append(buckets, h.Bins[:]...)
	if h.Over.Count() > 0 {
		buckets = append(buckets, h.Over)
	}

	peak, maxCount := 0, 0
	for i, b := range buckets {
		if b.Count() > maxCount {
			peak, maxCount = i, b.Count()
		}
	}

	base := kindColors[kind]
	bars := make([]chart.Value, len(buckets))
	for i, b := range buckets {
		label := fmt.Sprintf("%s %d (%.1f%%)", b.Label, b.Count(), float64(b.Count())/float64(h.Total)*100)
		fill := base.WithAlpha(180)
		if i == peak {
			label = "* " + label + " *"
			fill = peakColor
		}
		bars[i] = chart.Value{
			Value: float64(b.Count()),
			Label: label,
			Style: chart.Style{
				FillColor:   fill,
				StrokeColor: drawing.ColorWhite,
				StrokeWidth: 1,
			},
		}
	}

	graph := chart.BarChart{
		Title:    title,
		Width:    1500,
		Height:   700,
		BarWidth: 45,
		Background: chart.Style{
			Padding: chart.Box{Top: 60, Left: 20, Right: 20, Bottom: 160},
		},
		XAxis: chart.Style{
			FontSize:            8,
			TextRotationDegrees: 45,
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: float64(maxCount) * 1.4},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// writeChart renders h into dir/<column>.png.
func writeChart(dir string, h Histogram, title, kind string) (string, error) {
	png, err := RenderHistogram(h, title, kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, columnID(h.Column)+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	return path, nil
}
