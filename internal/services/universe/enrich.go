package universe

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/revisor/internal/models"
)

// EnrichSectors fetches the company profile of every entry in parallel and
// fills in sector and industry. Lookups that fail leave "Unknown". The
// returned slice keeps the input order.
func (s *Service) EnrichSectors(ctx context.Context, entries []models.UniverseEntry, workers int) ([]models.UniverseEntry, error) {
	if s.fmp == nil {
		return nil, fmt.Errorf("sector enrichment requires an estimates client")
	}
	if workers < 1 {
		workers = s.config.Scan.MaxWorkers
	}

	out := append([]models.UniverseEntry(nil), entries...)
	var unknown atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range out {
		g.Go(func() error {
			profile, err := s.fmp.GetCompanyProfile(gctx, out[i].Ticker)
			if err != nil || profile == nil {
				unknown.Add(1)
				out[i].Sector = models.UnknownClassification
				out[i].Industry = models.UnknownClassification
				s.logger.Debug().Str("ticker", out[i].Ticker).Err(err).Msg("Profile unavailable")
				return nil
			}
			out[i].Sector = orUnknown(profile.Sector)
			out[i].Industry = orUnknown(profile.Industry)
			if out[i].Name == "" {
				out[i].Name = profile.Name
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("tickers", len(out)).
		Int64("unknown", unknown.Load()).
		Msg("Sector enrichment complete")
	return out, nil
}

func orUnknown(v string) string {
	if v == "" {
		return models.UnknownClassification
	}
	return v
}
