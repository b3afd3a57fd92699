package models

import "time"

// EstimateComparison is the change in one ticker's nearest fiscal period
// estimates between two snapshot dates.
type EstimateComparison struct {
	Ticker             string   `json:"ticker"`
	FiscalPeriod       string   `json:"fiscal_period"`
	Sector             string   `json:"sector,omitempty"`
	OldEPS             *float64 `json:"old_eps"`
	NewEPS             *float64 `json:"new_eps"`
	EPSRevisionPct     *float64 `json:"eps_revision_pct"`
	OldRevenue         *float64 `json:"old_revenue"`
	NewRevenue         *float64 `json:"new_revenue"`
	RevenueRevisionPct *float64 `json:"revenue_revision_pct"`
	OldNumAnalysts     *int     `json:"old_num_analysts"`
	NewNumAnalysts     *int     `json:"new_num_analysts"`
}

// SectorRevision aggregates EPS revisions for one sector.
type SectorRevision struct {
	Sector      string  `json:"sector"`
	AvgRevision float64 `json:"avg_revision"`
	Median      float64 `json:"median"`
	Count       int     `json:"count"`
	Positive    int     `json:"positive"`
	Negative    int     `json:"negative"`
	PctPositive float64 `json:"pct_positive"`
}

// EPSHistoryPoint is one snapshot date's EPS for up to three fiscal years.
type EPSHistoryPoint struct {
	SnapshotDate time.Time `json:"snapshot_date"`
	FY1          *float64  `json:"fy1"`
	FY2          *float64  `json:"fy2"`
	FY3          *float64  `json:"fy3"`
	FY1Period    string    `json:"fy1_period,omitempty"`
	FY2Period    string    `json:"fy2_period,omitempty"`
	FY3Period    string    `json:"fy3_period,omitempty"`
}

// RevisionTrend is a ticker's first-to-last EPS revision across the tracked history.
type RevisionTrend struct {
	Ticker        string    `json:"ticker"`
	FirstDate     time.Time `json:"first_date"`
	LastDate      time.Time `json:"last_date"`
	DaysTracked   int       `json:"days_tracked"`
	FY1Revision   *float64  `json:"fy1_revision"`
	FY2Revision   *float64  `json:"fy2_revision"`
	FY3Revision   *float64  `json:"fy3_revision"`
	AllFYPositive bool      `json:"all_fy_positive"`
}

// RankingStats are the descriptive statistics printed with a ranking.
type RankingStats struct {
	Total    int     `json:"total"`
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
}

// ExportFile describes a stored report artifact.
type ExportFile struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
