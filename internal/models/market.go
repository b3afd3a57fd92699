// Package models defines data structures for Revisor
package models

import (
	"strings"
	"time"
)

// AnalystEstimate is one forward fiscal period of consensus estimates.
// Nil values mean the upstream did not report the field.
type AnalystEstimate struct {
	Date               string   `json:"date"` // fiscal period end, "2025-12-31"
	EPSAvg             *float64 `json:"eps_avg,omitempty"`
	EPSHigh            *float64 `json:"eps_high,omitempty"`
	EPSLow             *float64 `json:"eps_low,omitempty"`
	RevenueAvg         *float64 `json:"revenue_avg,omitempty"`
	RevenueHigh        *float64 `json:"revenue_high,omitempty"`
	RevenueLow         *float64 `json:"revenue_low,omitempty"`
	NumAnalystsEPS     *int     `json:"num_analysts_eps,omitempty"`
	NumAnalystsRevenue *int     `json:"num_analysts_revenue,omitempty"`
}

// IsFiscalYearEnd reports whether the period looks like a full fiscal year.
func (e AnalystEstimate) IsFiscalYearEnd() bool {
	return strings.HasSuffix(e.Date, "12-31") || strings.Contains(e.Date, "FY")
}

// PriceTargetConsensus is the analyst price target summary.
type PriceTargetConsensus struct {
	Consensus *float64 `json:"consensus,omitempty"`
	High      *float64 `json:"high,omitempty"`
	Low       *float64 `json:"low,omitempty"`
	Median    *float64 `json:"median,omitempty"`
}

// RatingAction is a single analyst upgrade, downgrade or reiteration.
type RatingAction struct {
	Date           time.Time `json:"date"`
	Action         string    `json:"action"`
	GradingCompany string    `json:"grading_company,omitempty"`
	PreviousGrade  string    `json:"previous_grade,omitempty"`
	NewGrade       string    `json:"new_grade,omitempty"`
}

// RatingDirection classifies an action string.
type RatingDirection int

const (
	RatingNeutral RatingDirection = iota
	RatingUp
	RatingDown
)

// Direction classifies the action as an upgrade, downgrade or neither.
// "upgrade"/"up" are tested before "downgrade"/"down".
func (a RatingAction) Direction() RatingDirection {
	action := strings.ToLower(a.Action)
	switch {
	case strings.Contains(action, "upgrade"), strings.Contains(action, "up"):
		return RatingUp
	case strings.Contains(action, "downgrade"), strings.Contains(action, "down"):
		return RatingDown
	}
	return RatingNeutral
}

// AnalystRatings is the current buy/hold/sell distribution.
type AnalystRatings struct {
	Date       string `json:"date,omitempty"`
	StrongBuy  int    `json:"strong_buy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strong_sell"`
}

// Total returns the number of analysts in the distribution.
func (r AnalystRatings) Total() int {
	return r.StrongBuy + r.Buy + r.Hold + r.Sell + r.StrongSell
}

// EarningsSurprise is a reported quarter's actual vs estimated EPS.
type EarningsSurprise struct {
	Date      time.Time `json:"date"`
	Actual    float64   `json:"actual"`
	Estimated float64   `json:"estimated"`
}

// CompanyProfile holds the classification fields used to annotate universes.
type CompanyProfile struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name,omitempty"`
	Sector    string  `json:"sector"`
	Industry  string  `json:"industry"`
	MarketCap float64 `json:"market_cap"`
}

// UnknownClassification is used when sector or industry is not available.
const UnknownClassification = "Unknown"

// UniverseEntry is one ticker from a reference list.
type UniverseEntry struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// FilterUniverse keeps entries whose sector matches one of sectors
// (case-insensitive; empty keeps all) and truncates to limit when limit > 0.
func FilterUniverse(entries []UniverseEntry, sectors []string, limit int) []UniverseEntry {
	out := entries
	if len(sectors) > 0 {
		want := make(map[string]bool, len(sectors))
		for _, s := range sectors {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				want[s] = true
			}
		}
		if len(want) > 0 {
			out = make([]UniverseEntry, 0, len(entries))
			for _, e := range entries {
				if want[strings.ToLower(e.Sector)] {
					out = append(out, e)
				}
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
