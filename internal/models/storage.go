package models

import (
	"fmt"
	"strings"
	"time"
)

// UnknownFiscalPeriod is stored when an estimate arrives without a period date.
const UnknownFiscalPeriod = "unknown"

// SnapshotDateFormat is the canonical calendar-date layout for snapshot dates.
const SnapshotDateFormat = "2006-01-02"

// EstimateSnapshot is one persisted observation of consensus estimates for a
// (ticker, snapshot date, fiscal period). Re-saving the same key replaces it.
type EstimateSnapshot struct {
	Ticker             string    `json:"ticker"`
	SnapshotDate       time.Time `json:"snapshot_date"`
	FiscalPeriod       string    `json:"fiscal_period"`
	EPSAvg             *float64  `json:"eps_avg"`
	EPSHigh            *float64  `json:"eps_high"`
	EPSLow             *float64  `json:"eps_low"`
	RevenueAvg         *float64  `json:"revenue_avg"`
	RevenueHigh        *float64  `json:"revenue_high"`
	RevenueLow         *float64  `json:"revenue_low"`
	NumAnalystsEPS     *int      `json:"num_analysts_eps"`
	NumAnalystsRevenue *int      `json:"num_analysts_revenue"`
	CreatedAt          time.Time `json:"created_at"`
}

// NormalizeTicker is the canonical stored form of a ticker: trimmed and
// upper-cased. Every snapshot write and lookup goes through it.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// SnapshotFromEstimate maps an upstream estimate onto a snapshot row.
func SnapshotFromEstimate(ticker string, est AnalystEstimate, snapshotDate time.Time) EstimateSnapshot {
	period := est.Date
	if period == "" {
		period = UnknownFiscalPeriod
	}
	return EstimateSnapshot{
		Ticker:             NormalizeTicker(ticker),
		SnapshotDate:       snapshotDate,
		FiscalPeriod:       period,
		EPSAvg:             est.EPSAvg,
		EPSHigh:            est.EPSHigh,
		EPSLow:             est.EPSLow,
		RevenueAvg:         est.RevenueAvg,
		RevenueHigh:        est.RevenueHigh,
		RevenueLow:         est.RevenueLow,
		NumAnalystsEPS:     est.NumAnalystsEPS,
		NumAnalystsRevenue: est.NumAnalystsRevenue,
	}
}

// SnapshotsFromEstimates converts the first limit estimates into snapshot rows.
// A fiscal period repeated within the input keeps its last occurrence.
func SnapshotsFromEstimates(ticker string, estimates []AnalystEstimate, snapshotDate time.Time, limit int) []EstimateSnapshot {
	if limit > 0 && len(estimates) > limit {
		estimates = estimates[:limit]
	}
	rows := make([]EstimateSnapshot, 0, len(estimates))
	index := make(map[string]int, len(estimates))
	for _, est := range estimates {
		snap := SnapshotFromEstimate(ticker, est, snapshotDate)
		if i, ok := index[snap.FiscalPeriod]; ok {
			rows[i] = snap
			continue
		}
		index[snap.FiscalPeriod] = len(rows)
		rows = append(rows, snap)
	}
	return rows
}

// RevisionResult compares the latest snapshot of a fiscal period with the
// latest snapshot taken on or before a lookback date. Percentages are nil when
// the older value is missing or zero.
type RevisionResult struct {
	Ticker             string    `json:"ticker"`
	FiscalPeriod       string    `json:"fiscal_period"`
	CurrentDate        time.Time `json:"current_date"`
	PastDate           time.Time `json:"past_date"`
	DaysCompared       int       `json:"days_compared"`
	CurrentEPS         *float64  `json:"current_eps"`
	PastEPS            *float64  `json:"past_eps"`
	EPSRevisionPct     *float64  `json:"eps_revision_pct"`
	CurrentRevenue     *float64  `json:"current_revenue"`
	PastRevenue        *float64  `json:"past_revenue"`
	RevenueRevisionPct *float64  `json:"revenue_revision_pct"`
	CurrentNumAnalysts *int      `json:"current_num_analysts"`
	PastNumAnalysts    *int      `json:"past_num_analysts"`
}

// AnalystCountChange returns current minus past analyst coverage, or nil.
func (r *RevisionResult) AnalystCountChange() *int {
	if r == nil || r.CurrentNumAnalysts == nil || r.PastNumAnalysts == nil {
		return nil
	}
	d := *r.CurrentNumAnalysts - *r.PastNumAnalysts
	return &d
}

// RevisionWindow is one lookback window of a summary. Result is nil when there
// was not enough history.
type RevisionWindow struct {
	Days   int             `json:"days"`
	Result *RevisionResult `json:"result"`
}

// RevisionSummary holds multi-window revisions for a ticker's nearest period.
type RevisionSummary struct {
	Ticker       string           `json:"ticker"`
	FiscalPeriod string           `json:"fiscal_period"`
	Windows      []RevisionWindow `json:"windows"`
}

// Window returns the result for a lookback, or nil.
func (s *RevisionSummary) Window(days int) *RevisionResult {
	if s == nil {
		return nil
	}
	for _, w := range s.Windows {
		if w.Days == days {
			return w.Result
		}
	}
	return nil
}

// HasData reports whether any window produced a comparison.
func (s *RevisionSummary) HasData() bool {
	if s == nil {
		return false
	}
	for _, w := range s.Windows {
		if w.Result != nil {
			return true
		}
	}
	return false
}

// Flat returns the eps_rev_{d}d / rev_rev_{d}d mapping. Every requested
// window has both keys; values are nil where no comparison was possible.
func (s *RevisionSummary) Flat() map[string]*float64 {
	out := make(map[string]*float64)
	if s == nil {
		return out
	}
	for _, w := range s.Windows {
		epsKey := fmt.Sprintf("eps_rev_%dd", w.Days)
		revKey := fmt.Sprintf("rev_rev_%dd", w.Days)
		out[epsKey] = nil
		out[revKey] = nil
		if w.Result != nil {
			out[epsKey] = w.Result.EPSRevisionPct
			out[revKey] = w.Result.RevenueRevisionPct
		}
	}
	return out
}

// TrackerStatus describes the contents of the snapshot store.
type TrackerStatus struct {
	Backend        string    `json:"backend"`
	Location       string    `json:"location"`
	TickersTracked int       `json:"tickers_tracked"`
	SnapshotDates  int       `json:"snapshot_dates"`
	LatestDate     time.Time `json:"latest_date,omitempty"`
	OldestDate     time.Time `json:"oldest_date,omitempty"`
	Stale          bool      `json:"stale"`
}

// CaptureResult summarises a snapshot capture batch.
type CaptureResult struct {
	SnapshotDate time.Time     `json:"snapshot_date"`
	Universe     string        `json:"universe"`
	Total        int           `json:"total"`
	Saved        int           `json:"saved"`
	Skipped      int           `json:"skipped"`
	Rows         int           `json:"rows"`
	Duration     time.Duration `json:"duration"`
}
