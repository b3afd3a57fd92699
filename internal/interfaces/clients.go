// Package interfaces defines service contracts for Revisor
package interfaces

import (
	"context"

	"github.com/bobmcallan/revisor/internal/models"
)

// FMPClient provides access to the Financial Modeling Prep API.
// Every method returns a typed error when the upstream has nothing usable;
// callers treat any error as "signal unavailable" for that ticker.
type FMPClient interface {
	// GetAnalystEstimates retrieves forward quarterly consensus estimates
	GetAnalystEstimates(ctx context.Context, ticker string) ([]models.AnalystEstimate, error)

	// GetPriceTargetConsensus retrieves the analyst price target summary
	GetPriceTargetConsensus(ctx context.Context, ticker string) (*models.PriceTargetConsensus, error)

	// GetUpgradesDowngrades retrieves recent rating actions, newest first
	GetUpgradesDowngrades(ctx context.Context, ticker string) ([]models.RatingAction, error)

	// GetAnalystRecommendations retrieves the current buy/hold/sell distribution
	GetAnalystRecommendations(ctx context.Context, ticker string) (*models.AnalystRatings, error)

	// GetEarningsSurprises retrieves reported quarters, newest first
	GetEarningsSurprises(ctx context.Context, ticker string) ([]models.EarningsSurprise, error)

	// GetCompanyProfile retrieves sector and industry classification
	GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error)
}
