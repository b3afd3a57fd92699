package app

import (
	"context"
	"sync/atomic"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// clientRef boxes an interface value so it can sit behind an atomic.Pointer.
type clientRef struct {
	interfaces.FMPClient
}

// swappableClient is the FMPClient every service holds. The upstream client
// behind it can be replaced at any time; calls made while none is set fail
// with fmp.ErrMissingAPIKey.
type swappableClient struct {
	current atomic.Pointer[clientRef]
}

var _ interfaces.FMPClient = (*swappableClient)(nil)

func (c *swappableClient) store(client interfaces.FMPClient) {
	if client == nil {
		c.current.Store(nil)
		return
	}
	c.current.Store(&clientRef{client})
}

func (c *swappableClient) load() (interfaces.FMPClient, error) {
	ref := c.current.Load()
	if ref == nil {
		return nil, fmp.ErrMissingAPIKey
	}
	return ref.FMPClient, nil
}

func (c *swappableClient) GetAnalystEstimates(ctx context.Context, ticker string) ([]models.AnalystEstimate, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetAnalystEstimates(ctx, ticker)
}

func (c *swappableClient) GetPriceTargetConsensus(ctx context.Context, ticker string) (*models.PriceTargetConsensus, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetPriceTargetConsensus(ctx, ticker)
}

func (c *swappableClient) GetUpgradesDowngrades(ctx context.Context, ticker string) ([]models.RatingAction, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetUpgradesDowngrades(ctx, ticker)
}

func (c *swappableClient) GetAnalystRecommendations(ctx context.Context, ticker string) (*models.AnalystRatings, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetAnalystRecommendations(ctx, ticker)
}

func (c *swappableClient) GetEarningsSurprises(ctx context.Context, ticker string) ([]models.EarningsSurprise, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetEarningsSurprises(ctx, ticker)
}

func (c *swappableClient) GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error) {
	client, err := c.load()
	if err != nil {
		return nil, err
	}
	return client.GetCompanyProfile(ctx, ticker)
}
