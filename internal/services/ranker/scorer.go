package ranker

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// Scorer computes the composite revision strength score from earnings
// history and rating momentum. Revision percentages are not an input.
type Scorer struct {
	weights common.ScoringConfig
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights common.ScoringConfig) *Scorer {
	return &Scorer{weights: weights}
}

// Score combines three components:
//
//	beats    = beats*BeatPoints - misses*MissPenalty
//	surprise = clamp(avgSurprise*SurpriseMultiplier, SurpriseFloor, SurpriseCap)
//	rating   = min(net*RatingMultiplier, RatingCap) when net > 0, net*RatingMultiplier otherwise
//
// The total is rounded half away from zero to 2 decimals. A non-finite
// avgSurprise contributes nothing.
func (s *Scorer) Score(beats, misses int, avgSurprise float64, netRating int) models.ScoreBreakdown {
	w := s.weights

	beatsPart := decimal.NewFromInt(int64(beats)).Mul(decimal.NewFromFloat(w.BeatPoints)).
		Sub(decimal.NewFromInt(int64(misses)).Mul(decimal.NewFromFloat(w.MissPenalty)))

	surprisePart := decimal.Zero
	if !math.IsNaN(avgSurprise) && !math.IsInf(avgSurprise, 0) {
		surprisePart = decimal.NewFromFloat(avgSurprise).Mul(decimal.NewFromFloat(w.SurpriseMultiplier))
		surprisePart = decimal.Min(surprisePart, decimal.NewFromFloat(w.SurpriseCap))
		surprisePart = decimal.Max(surprisePart, decimal.NewFromFloat(w.SurpriseFloor))
	}

	ratingPart := decimal.NewFromInt(int64(netRating)).Mul(decimal.NewFromFloat(w.RatingMultiplier))
	if netRating > 0 {
		ratingPart = decimal.Min(ratingPart, decimal.NewFromFloat(w.RatingCap))
	}

	total := beatsPart.Add(surprisePart).Add(ratingPart).Round(2)

	return models.ScoreBreakdown{
		BeatsComponent:    beatsPart.InexactFloat64(),
		SurpriseComponent: surprisePart.Round(2).InexactFloat64(),
		RatingComponent:   ratingPart.InexactFloat64(),
		Total:             total.InexactFloat64(),
	}
}
