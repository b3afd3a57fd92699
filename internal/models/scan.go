package models

import "time"

// BeatsMisses summarises up to four reported quarters.
type BeatsMisses struct {
	Beats          int     `json:"beats"`
	Misses         int     `json:"misses"`
	Meets          int     `json:"meets"`
	Quarters       int     `json:"quarters"` // records with a non-zero estimate
	Streak         string  `json:"streak"`   // oldest to newest, "N/A" when empty
	AvgSurprisePct float64 `json:"avg_surprise_pct"`
}

// StreakUnavailable is the streak value when no quarter qualified.
const StreakUnavailable = "N/A"

// ScoreBreakdown is the composite score and its three components.
type ScoreBreakdown struct {
	BeatsComponent    float64 `json:"beats_component"`
	SurpriseComponent float64 `json:"surprise_component"`
	RatingComponent   float64 `json:"rating_component"`
	Total             float64 `json:"total"`
}

// Revision sources recorded on TickerMetrics.
const (
	RevisionSourceSnapshots = "snapshots"
	RevisionSourceConsensus = "consensus"
	RevisionSourceNone      = "none"
)

// TickerMetrics is the per-ticker record produced by a scan. It is built
// fresh every scan; only the ranked table is exported.
type TickerMetrics struct {
	Rank     int       `json:"rank,omitempty"`
	Ticker   string    `json:"ticker"`
	Sector   string    `json:"sector,omitempty"`
	Industry string    `json:"industry,omitempty"`
	ScoredAt time.Time `json:"scored_at"`

	// Current estimates
	CurrentEPSQ1        *float64 `json:"current_eps_q1"`
	CurrentEPSFY1       *float64 `json:"current_eps_fy1"`
	CurrentRevenueQ1    *float64 `json:"current_revenue_q1"`
	AnalystCountEPS     *int     `json:"analyst_count_eps"`
	AnalystCountRevenue *int     `json:"analyst_count_revenue"`

	// Revisions (reported, never scored)
	EPSRevisionPct     *float64            `json:"eps_revision_pct"`
	RevenueRevisionPct *float64            `json:"revenue_revision_pct"`
	AnalystCountChange *int                `json:"analyst_count_change"`
	RevisionSource     string              `json:"revision_source"`
	RevisionWindows    map[string]*float64 `json:"revision_windows,omitempty"`

	// Price targets
	PriceTargetAvg  *float64 `json:"price_target_avg"`
	PriceTargetHigh *float64 `json:"price_target_high"`
	PriceTargetLow  *float64 `json:"price_target_low"`

	// Rating changes within the lookback window
	UpgradesCount   int `json:"upgrades_count"`
	DowngradesCount int `json:"downgrades_count"`
	NetRatingChange int `json:"net_rating_change"`

	// Current distribution
	StrongBuy  int `json:"strong_buy"`
	Buy        int `json:"buy"`
	Hold       int `json:"hold"`
	Sell       int `json:"sell"`
	StrongSell int `json:"strong_sell"`

	// Earnings history
	Beats4Q        int     `json:"beats_4q"`
	Misses4Q       int     `json:"misses_4q"`
	Streak         string  `json:"streak"`
	AvgSurprisePct float64 `json:"avg_surprise_pct"`

	Score                 ScoreBreakdown `json:"score_breakdown"`
	RevisionStrengthScore float64        `json:"revision_strength_score"`

	// Signals that could not be fetched, by endpoint
	MissingSignals []string `json:"missing_signals,omitempty"`
}

// RankedUniverse is the sorted output of a scan: non-increasing score, 1-based rank.
type RankedUniverse struct {
	Universe    string          `json:"universe"`
	GeneratedAt time.Time       `json:"generated_at"`
	Rows        []TickerMetrics `json:"rows"`
	Stats       ScanStats       `json:"stats"`
}

// Top returns the first n rows.
func (u *RankedUniverse) Top(n int) []TickerMetrics {
	if u == nil {
		return nil
	}
	if n <= 0 || n >= len(u.Rows) {
		return u.Rows
	}
	return u.Rows[:n]
}

// FetchFailure classifies why an upstream call produced no data.
type FetchFailure string

const (
	FailureNoData    FetchFailure = "no_data"
	FailureHTTP      FetchFailure = "http"
	FailureMalformed FetchFailure = "malformed"
	FailureNetwork   FetchFailure = "network"
	FailurePanic     FetchFailure = "panic"
	FailureStore     FetchFailure = "store"
	FailureUnknown   FetchFailure = "unknown"
)

// ScanStats records what happened to each ticker in a scan.
type ScanStats struct {
	Total     int                  `json:"total"`
	Scored    int                  `json:"scored"`
	Skipped   int                  `json:"skipped"` // no estimates returned
	Failed    int                  `json:"failed"`  // task error or panic
	Failures  map[FetchFailure]int `json:"failures,omitempty"`
	Workers   int                  `json:"workers"`
	Parallel  bool                 `json:"parallel"`
	Duration  time.Duration        `json:"duration"`
	Cancelled bool                 `json:"cancelled,omitempty"`
}

// ScanProgress is emitted after every finished ticker.
type ScanProgress struct {
	Ticker    string `json:"ticker"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Percent returns completion as 0-100.
func (p ScanProgress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ScanOptions parameterises a scan request.
type ScanOptions struct {
	Universe   string   `json:"universe"`
	Sectors    []string `json:"sectors,omitempty"`
	MaxStocks  int      `json:"max_stocks,omitempty"`
	Sequential bool     `json:"sequential,omitempty"`
	Workers    int      `json:"workers,omitempty"`
}
