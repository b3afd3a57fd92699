package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

const notAvailable = "N/A"

// ComputeStats summarises the score distribution of a ranking.
func ComputeStats(rows []models.TickerMetrics) models.RankingStats {
	stats := models.RankingStats{Total: len(rows)}
	if len(rows) == 0 {
		return stats
	}
	scores := make([]float64, len(rows))
	sum := 0.0
	for i, r := range rows {
		scores[i] = r.RevisionStrengthScore
		sum += r.RevisionStrengthScore
		switch {
		case r.RevisionStrengthScore > 0:
			stats.Positive++
		case r.RevisionStrengthScore < 0:
			stats.Negative++
		}
	}
	sort.Float64s(scores)
	mid := len(scores) / 2
	median := scores[mid]
	if len(scores)%2 == 0 {
		median = (scores[mid-1] + scores[mid]) / 2
	}
	stats.Mean = common.Round2(sum / float64(len(scores)))
	stats.Median = common.Round2(median)
	return stats
}

// FormatRankingSummary renders the top n rows and the score statistics.
func FormatRankingSummary(universe *models.RankedUniverse, topN int) string {
	var sb strings.Builder
	if universe == nil {
		return "No ranking available.\n"
	}

	title := universe.Universe
	if title == "" {
		title = "universe"
	}
	top := universe.Top(topN)

	sb.WriteString(fmt.Sprintf("# Top %d Stocks by Earnings Revision Strength (%s)\n\n", len(top), title))
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n\n", universe.GeneratedAt.Format("2006-01-02 15:04")))

	sb.WriteString("| Rank | Ticker | Score | EPS Rev% | Rev Rev% | Net Ratings | Analyst Chg | Streak | Sector |\n")
	sb.WriteString("|------|--------|-------|----------|----------|-------------|-------------|--------|--------|\n")
	for _, r := range top {
		sb.WriteString(fmt.Sprintf("| %d | %s | %.2f | %s | %s | %+d | %s | %s | %s |\n",
			r.Rank, r.Ticker, r.RevisionStrengthScore,
			fmtPct(r.EPSRevisionPct), fmtPct(r.RevenueRevisionPct),
			r.NetRatingChange, fmtSignedInt(r.AnalystCountChange), r.Streak, orDash(r.Sector),
		))
	}
	sb.WriteString("\n")

	stats := ComputeStats(universe.Rows)
	sb.WriteString("## Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- Total stocks analyzed: %d\n", stats.Total))
	sb.WriteString(fmt.Sprintf("- Positive scores: %d\n", stats.Positive))
	sb.WriteString(fmt.Sprintf("- Negative scores: %d\n", stats.Negative))
	sb.WriteString(fmt.Sprintf("- Average score: %.2f\n", stats.Mean))
	sb.WriteString(fmt.Sprintf("- Median score: %.2f\n", stats.Median))

	s := universe.Stats
	sb.WriteString(fmt.Sprintf("- Skipped (no estimates): %d\n", s.Skipped))
	sb.WriteString(fmt.Sprintf("- Failed: %d%s\n", s.Failed, formatFailures(s.Failures)))
	mode := "sequential"
	if s.Parallel {
		mode = fmt.Sprintf("parallel, %d workers", s.Workers)
	}
	sb.WriteString(fmt.Sprintf("- Duration: %s (%s)\n", s.Duration.Round(time.Millisecond), mode))
	if s.Cancelled {
		sb.WriteString("- **Scan was cancelled before every ticker finished**\n")
	}
	return sb.String()
}

func formatFailures(failures map[models.FetchFailure]int) string {
	if len(failures) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(failures))
	for k := range failures {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s: %d", k, failures[models.FetchFailure(k)])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// FormatTrackerStatus renders what the snapshot store holds.
func FormatTrackerStatus(status *models.TrackerStatus) string {
	var sb strings.Builder
	sb.WriteString("# Estimates Tracker Status\n\n")
	sb.WriteString(fmt.Sprintf("**Backend:** %s (%s)\n", status.Backend, status.Location))
	sb.WriteString(fmt.Sprintf("**Tickers tracked:** %d\n", status.TickersTracked))
	sb.WriteString(fmt.Sprintf("**Snapshot dates:** %d\n", status.SnapshotDates))
	if status.SnapshotDates > 0 {
		sb.WriteString(fmt.Sprintf("**Latest:** %s\n", status.LatestDate.Format(models.SnapshotDateFormat)))
		sb.WriteString(fmt.Sprintf("**Oldest:** %s\n", status.OldestDate.Format(models.SnapshotDateFormat)))
	}
	if status.Stale {
		sb.WriteString("\n**Warning:** no recent snapshot. Run a capture to keep revisions current.\n")
	}
	return sb.String()
}

// FormatRevisionSummary renders each lookback window for one ticker.
func FormatRevisionSummary(summary *models.RevisionSummary) string {
	if summary == nil {
		return "No snapshot history for this ticker.\n"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Estimate Revisions: %s (%s)\n\n", summary.Ticker, summary.FiscalPeriod))
	sb.WriteString("| Window | Compared | EPS Now | EPS Then | EPS Rev% | Rev Rev% | Analysts |\n")
	sb.WriteString("|--------|----------|---------|----------|----------|----------|----------|\n")
	for _, w := range summary.Windows {
		r := w.Result
		if r == nil {
			sb.WriteString(fmt.Sprintf("| %dd | %s | | | %s | %s | |\n", w.Days, notAvailable, notAvailable, notAvailable))
			continue
		}
		sb.WriteString(fmt.Sprintf("| %dd | %s vs %s (%dd) | %s | %s | %s | %s | %s |\n",
			w.Days,
			r.CurrentDate.Format(models.SnapshotDateFormat), r.PastDate.Format(models.SnapshotDateFormat), r.DaysCompared,
			fmtFloat(r.CurrentEPS), fmtFloat(r.PastEPS),
			fmtPct(r.EPSRevisionPct), fmtPct(r.RevenueRevisionPct),
			fmtSignedInt(r.AnalystCountChange()),
		))
	}
	return sb.String()
}

// FormatComparison renders a between-dates comparison.
func FormatComparison(from, to time.Time, rows []models.EstimateComparison) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# EPS Estimate Changes: %s to %s\n\n",
		from.Format(models.SnapshotDateFormat), to.Format(models.SnapshotDateFormat)))
	if len(rows) == 0 {
		sb.WriteString("No tickers were captured on both dates.\n")
		return sb.String()
	}
	sb.WriteString("| Ticker | Period | Old EPS | New EPS | EPS Chg% | Rev Chg% | Sector |\n")
	sb.WriteString("|--------|--------|---------|---------|----------|----------|--------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
			r.Ticker, r.FiscalPeriod, fmtFloat(r.OldEPS), fmtFloat(r.NewEPS),
			fmtPct(r.EPSRevisionPct), fmtPct(r.RevenueRevisionPct), orDash(r.Sector)))
	}
	return sb.String()
}

// FormatSectorSummary renders per-sector revision aggregates.
func FormatSectorSummary(rows []models.SectorRevision) string {
	var sb strings.Builder
	sb.WriteString("# Sector Revision Summary\n\n")
	sb.WriteString("| Sector | Avg Rev% | Median% | Stocks | Up | Down | % Up |\n")
	sb.WriteString("|--------|----------|---------|--------|----|------|------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %+.2f%% | %+.2f%% | %d | %d | %d | %.1f%% |\n",
			r.Sector, r.AvgRevision, r.Median, r.Count, r.Positive, r.Negative, r.PctPositive))
	}
	return sb.String()
}

// FormatTrends renders the positive revision trend screen. When onlyPositive
// is set, tickers whose FY revisions are not all positive are left out.
func FormatTrends(trends []models.RevisionTrend, onlyPositive bool) string {
	var sb strings.Builder
	sb.WriteString("# EPS Revision Trends\n\n")

	shown := 0
	for _, t := range trends {
		if onlyPositive && !t.AllFYPositive {
			continue
		}
		if shown == 0 {
			sb.WriteString("| Ticker | From | To | FY1 Rev% | FY2 Rev% | FY3 Rev% | All Positive |\n")
			sb.WriteString("|--------|------|----|----------|----------|----------|--------------|\n")
		}
		shown++
		all := "no"
		if t.AllFYPositive {
			all = "yes"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
			t.Ticker, t.FirstDate.Format(models.SnapshotDateFormat), t.LastDate.Format(models.SnapshotDateFormat),
			fmtPct(t.FY1Revision), fmtPct(t.FY2Revision), fmtPct(t.FY3Revision), all))
	}
	if shown == 0 {
		sb.WriteString("Not enough snapshot history to screen revision trends.\n")
	}
	return sb.String()
}

// FormatCapture renders a capture batch result.
func FormatCapture(r *models.CaptureResult) string {
	return fmt.Sprintf("Snapshot %s (%s): saved %d/%d tickers, %d rows, skipped %d in %s\n",
		r.SnapshotDate.Format(models.SnapshotDateFormat), r.Universe,
		r.Saved, r.Total, r.Rows, r.Skipped, r.Duration.Round(time.Millisecond))
}

func fmtPct(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return fmt.Sprintf("%+.2f%%", *v)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtSignedInt(v *int) string {
	if v == nil {
		return notAvailable
	}
	return fmt.Sprintf("%+d", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
