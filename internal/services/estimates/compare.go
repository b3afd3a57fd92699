package estimates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// CompareDates joins the snapshots taken on from and to by (ticker, fiscal
// period) and keeps each ticker's earliest period. Rows without EPS on both
// dates are dropped. Results are sorted by EPS revision descending, nil last.
func (s *Service) CompareDates(ctx context.Context, from, to time.Time, tickers []string) ([]models.EstimateComparison, error) {
	olds, err := s.store().SnapshotsOn(ctx, from)
	if err != nil {
		return nil, err
	}
	news, err := s.store().SnapshotsOn(ctx, to)
	if err != nil {
		return nil, err
	}

	var filter map[string]bool
	if len(tickers) > 0 {
		filter = make(map[string]bool, len(tickers))
		for _, t := range tickers {
			filter[strings.ToUpper(strings.TrimSpace(t))] = true
		}
	}

	oldByKey := make(map[string]models.EstimateSnapshot, len(olds))
	for _, o := range olds {
		oldByKey[o.Ticker+"\x00"+o.FiscalPeriod] = o
	}

	sort.SliceStable(news, func(i, j int) bool {
		if news[i].Ticker != news[j].Ticker {
			return news[i].Ticker < news[j].Ticker
		}
		return news[i].FiscalPeriod < news[j].FiscalPeriod
	})

	seen := make(map[string]bool)
	var out []models.EstimateComparison
	for _, n := range news {
		if seen[n.Ticker] || n.EPSAvg == nil {
			continue
		}
		if filter != nil && !filter[n.Ticker] {
			continue
		}
		o, ok := oldByKey[n.Ticker+"\x00"+n.FiscalPeriod]
		if !ok || o.EPSAvg == nil {
			continue
		}
		seen[n.Ticker] = true
		out = append(out, models.EstimateComparison{
			Ticker:             n.Ticker,
			FiscalPeriod:       n.FiscalPeriod,
			OldEPS:             o.EPSAvg,
			NewEPS:             n.EPSAvg,
			EPSRevisionPct:     common.RoundPtr(revisionPct(n.EPSAvg, o.EPSAvg), 2),
			OldRevenue:         o.RevenueAvg,
			NewRevenue:         n.RevenueAvg,
			RevenueRevisionPct: common.RoundPtr(revisionPct(n.RevenueAvg, o.RevenueAvg), 2),
			OldNumAnalysts:     o.NumAnalystsEPS,
			NewNumAnalysts:     n.NumAnalystsEPS,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].EPSRevisionPct, out[j].EPSRevisionPct
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
	return out, nil
}

// SectorSummary groups the from/to comparison by sector. sectors maps ticker
// to sector; tickers without a sector or without an EPS revision are ignored.
func (s *Service) SectorSummary(ctx context.Context, from, to time.Time, sectors map[string]string) ([]models.SectorRevision, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("sector map is empty")
	}

	tickers := make([]string, 0, len(sectors))
	for t := range sectors {
		tickers = append(tickers, t)
	}
	comparisons, err := s.CompareDates(ctx, from, to, tickers)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]float64)
	for _, c := range comparisons {
		sector := sectors[c.Ticker]
		if sector == "" || c.EPSRevisionPct == nil {
			continue
		}
		groups[sector] = append(groups[sector], *c.EPSRevisionPct)
	}

	out := make([]models.SectorRevision, 0, len(groups))
	for sector, values := range groups {
		positive := 0
		for _, v := range values {
			if v > 0 {
				positive++
			}
		}
		out = append(out, models.SectorRevision{
			Sector:      sector,
			AvgRevision: common.Round2(mean(values)),
			Median:      common.Round2(median(values)),
			Count:       len(values),
			Positive:    positive,
			Negative:    len(values) - positive,
			PctPositive: common.Round(float64(positive)/float64(len(values))*100, 1),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgRevision != out[j].AvgRevision {
			return out[i].AvgRevision > out[j].AvgRevision
		}
		return out[i].Sector < out[j].Sector
	})
	return out, nil
}

// ScreenPositiveTrends computes first-to-last FY1..FY3 EPS revisions for every
// tracked ticker. Nothing is returned until the store spans minDays.
func (s *Service) ScreenPositiveTrends(ctx context.Context, minDays int) ([]models.RevisionTrend, error) {
	dates, err := s.store().SnapshotDates(ctx)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, nil
	}
	span := daysBetween(dates[len(dates)-1], dates[0])
	if span < minDays {
		s.logger.Debug().Int("span", span).Int("min_days", minDays).Msg("Not enough history for trend screen")
		return nil, nil
	}

	tickers, err := s.store().ListTickers(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.RevisionTrend
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hist, err := s.EPSHistory(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if len(hist) < 2 {
			continue
		}

		trend := models.RevisionTrend{
			Ticker:        ticker,
			FirstDate:     hist[0].SnapshotDate,
			LastDate:      hist[len(hist)-1].SnapshotDate,
			DaysTracked:   span,
			AllFYPositive: true,
		}
		series := []struct {
			get func(models.EPSHistoryPoint) *float64
			set func(*float64)
		}{
			{func(p models.EPSHistoryPoint) *float64 { return p.FY1 }, func(v *float64) { trend.FY1Revision = v }},
			{func(p models.EPSHistoryPoint) *float64 { return p.FY2 }, func(v *float64) { trend.FY2Revision = v }},
			{func(p models.EPSHistoryPoint) *float64 { return p.FY3 }, func(v *float64) { trend.FY3Revision = v }},
		}
		for _, fy := range series {
			var values []float64
			for _, p := range hist {
				if v := fy.get(p); v != nil {
					values = append(values, *v)
				}
			}
			if len(values) < 2 {
				continue
			}
			first, last := values[0], values[len(values)-1]
			if first == 0 {
				trend.AllFYPositive = false
				continue
			}
			pct := common.Round2((last - first) / abs(first) * 100)
			fy.set(&pct)
			if pct <= 0 {
				trend.AllFYPositive = false
			}
		}

		if trend.FY1Revision != nil {
			out = append(out, trend)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].FY1Revision > *out[j].FY1Revision
	})
	return out, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
