package estimates

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/revisor/internal/models"
)

// RenderEPSHistoryChart renders the ticker's FY1..FY3 EPS history as PNG.
func (s *Service) RenderEPSHistoryChart(ctx context.Context, ticker string) ([]byte, error) {
	points, err := s.EPSHistory(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return RenderEPSHistoryChart(strings.ToUpper(ticker), points)
}

// RenderEPSHistoryChart draws one line per fiscal year that has at least two
// observations. Returns raw PNG bytes.
func RenderEPSHistoryChart(ticker string, points []models.EPSHistoryPoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("need at least 2 snapshot dates, got %d", len(points))
	}

	lines := []struct {
		name  string
		color string
		get   func(models.EPSHistoryPoint) *float64
	}{
		{"FY1", "2563eb", func(p models.EPSHistoryPoint) *float64 { return p.FY1 }}, // blue-600
		{"FY2", "16a34a", func(p models.EPSHistoryPoint) *float64 { return p.FY2 }}, // green-600
		{"FY3", "ea580c", func(p models.EPSHistoryPoint) *float64 { return p.FY3 }}, // orange-600
	}

	var series []chart.Series
	for _, line := range lines {
		var xs []time.Time
		var ys []float64
		for _, p := range points {
			if v := line.get(p); v != nil {
				xs = append(xs, p.SnapshotDate)
				ys = append(ys, *v)
			}
		}
		if len(xs) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{
			Name: line.name + " EPS",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex(line.color),
				StrokeWidth: 2,
			},
			XValues: xs,
			YValues: ys,
		})
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no fiscal year has at least 2 EPS observations")
	}

	graph := chart.Chart{
		Title:  ticker + " EPS Estimate Revisions",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 02")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.2f", f)
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}
