// Package ranker scores tickers on earnings momentum and ranks universes.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// primaryRevisionWindow is the lookback reported as the headline revision
// when the snapshot history has it.
const primaryRevisionWindow = 30

// Signal names recorded in TickerMetrics.MissingSignals.
const (
	signalPriceTarget = "price_target"
	signalRatings     = "analyst_ratings"
	signalActions     = "upgrades_downgrades"
	signalSurprises   = "earnings_surprises"
	signalSnapshots   = "snapshot_history"
)

// Service implements RankingService
type Service struct {
	fmp     interfaces.FMPClient
	tracker interfaces.EstimatesService
	scorer  *Scorer
	config  *common.Config
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a ranking service. tracker may be nil, in which case
// revisions always come from the upstream consensus list.
func NewService(
	fmpClient interfaces.FMPClient,
	tracker interfaces.EstimatesService,
	config *common.Config,
	logger *common.Logger,
) *Service {
	return &Service{
		fmp:     fmpClient,
		tracker: tracker,
		scorer:  NewScorer(config.Scoring),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source used for the rating-action window.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ScoreTicker fetches every signal for ticker and builds its metrics record.
// Estimates are required: no data yields (nil, nil), any other estimates
// failure is returned. The remaining signals are optional and only noted in
// MissingSignals when unavailable.
func (s *Service) ScoreTicker(ctx context.Context, ticker string) (*models.TickerMetrics, error) {
	ests, err := s.fmp.GetAnalystEstimates(ctx, ticker)
	if err != nil {
		if errors.Is(err, fmp.ErrNoData) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch estimates for %s: %w", ticker, err)
	}
	if len(ests) == 0 {
		return nil, nil
	}

	m := &models.TickerMetrics{
		Ticker:         ticker,
		ScoredAt:       s.now(),
		Streak:         models.StreakUnavailable,
		RevisionSource: models.RevisionSourceNone,
	}

	applyCurrentEstimates(m, ests)
	s.applyRevisions(ctx, m, ests)

	if pt, err := s.fmp.GetPriceTargetConsensus(ctx, ticker); err != nil {
		s.missing(m, signalPriceTarget, err)
	} else if pt != nil {
		m.PriceTargetAvg = pt.Consensus
		m.PriceTargetHigh = pt.High
		m.PriceTargetLow = pt.Low
	}

	if r, err := s.fmp.GetAnalystRecommendations(ctx, ticker); err != nil {
		s.missing(m, signalRatings, err)
	} else if r != nil {
		m.StrongBuy, m.Buy, m.Hold, m.Sell, m.StrongSell = r.StrongBuy, r.Buy, r.Hold, r.Sell, r.StrongSell
	}

	if actions, err := s.fmp.GetUpgradesDowngrades(ctx, ticker); err != nil {
		s.missing(m, signalActions, err)
	} else {
		m.UpgradesCount, m.DowngradesCount = s.countRatingActions(actions)
		m.NetRatingChange = m.UpgradesCount - m.DowngradesCount
	}

	if surprises, err := s.fmp.GetEarningsSurprises(ctx, ticker); err != nil {
		s.missing(m, signalSurprises, err)
	} else {
		bm := AnalyzeBeatsMisses(surprises)
		m.Beats4Q = bm.Beats
		m.Misses4Q = bm.Misses
		m.Streak = bm.Streak
		m.AvgSurprisePct = bm.AvgSurprisePct
	}

	m.Score = s.scorer.Score(m.Beats4Q, m.Misses4Q, m.AvgSurprisePct, m.NetRatingChange)
	m.RevisionStrengthScore = m.Score.Total
	return m, nil
}

func (s *Service) missing(m *models.TickerMetrics, signal string, err error) {
	m.MissingSignals = append(m.MissingSignals, signal)
	s.logger.Debug().
		Str("ticker", m.Ticker).
		Str("signal", signal).
		Str("kind", string(fmp.Classify(err))).
		Err(err).
		Msg("Signal unavailable")
}

// applyCurrentEstimates fills the nearest-quarter and FY1 estimates. FY1 is
// the first period ending 12-31, falling back to the fourth period when that
// is missing or zero.
func applyCurrentEstimates(m *models.TickerMetrics, ests []models.AnalystEstimate) {
	sorted := append([]models.AnalystEstimate(nil), ests...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	q1 := sorted[0]
	m.CurrentEPSQ1 = q1.EPSAvg
	m.CurrentRevenueQ1 = q1.RevenueAvg
	m.AnalystCountEPS = q1.NumAnalystsEPS
	m.AnalystCountRevenue = q1.NumAnalystsRevenue

	for _, e := range sorted {
		if e.IsFiscalYearEnd() {
			m.CurrentEPSFY1 = e.EPSAvg
			break
		}
	}
	if (m.CurrentEPSFY1 == nil || *m.CurrentEPSFY1 == 0) && len(sorted) > 3 {
		m.CurrentEPSFY1 = sorted[3].EPSAvg
	}
}

// applyRevisions prefers true revisions from the snapshot history and falls
// back to comparing the first two upstream periods.
func (s *Service) applyRevisions(ctx context.Context, m *models.TickerMetrics, ests []models.AnalystEstimate) {
	if s.tracker != nil {
		summary, err := s.tracker.GetRevisionsSummary(ctx, m.Ticker, s.config.Scan.RevisionDays)
		if err != nil {
			s.missing(m, signalSnapshots, err)
		} else if primary := primaryWindow(summary); primary != nil {
			m.RevisionSource = models.RevisionSourceSnapshots
			m.EPSRevisionPct = common.RoundPtr(primary.EPSRevisionPct, 2)
			m.RevenueRevisionPct = common.RoundPtr(primary.RevenueRevisionPct, 2)
			m.AnalystCountChange = primary.AnalystCountChange()
			m.RevisionWindows = summary.Flat()
			return
		}
	}

	if len(ests) < 2 {
		return
	}
	recent, previous := ests[0], ests[1]
	m.RevisionSource = models.RevisionSourceConsensus
	m.EPSRevisionPct = common.RoundPtr(changePct(recent.EPSAvg, previous.EPSAvg), 2)
	m.RevenueRevisionPct = common.RoundPtr(changePct(recent.RevenueAvg, previous.RevenueAvg), 2)
	change := intOrZero(recent.NumAnalystsEPS) - intOrZero(previous.NumAnalystsEPS)
	m.AnalystCountChange = &change
}

func primaryWindow(summary *models.RevisionSummary) *models.RevisionResult {
	if summary == nil || len(summary.Windows) == 0 {
		return nil
	}
	for _, w := range summary.Windows {
		if w.Days == primaryRevisionWindow {
			return w.Result
		}
	}
	return summary.Windows[0].Result
}

// countRatingActions inspects the newest actions within the rating window.
func (s *Service) countRatingActions(actions []models.RatingAction) (up, down int) {
	limit := s.config.Scan.RatingActionsLimit
	if limit > 0 && len(actions) > limit {
		actions = actions[:limit]
	}
	// Only actions strictly newer than now minus the window count.
	cutoff := s.now().AddDate(0, 0, -s.config.Scan.RatingWindowDays)

	for _, a := range actions {
		if a.Date.IsZero() || !a.Date.After(cutoff) {
			continue
		}
		switch a.Direction() {
		case models.RatingUp:
			up++
		case models.RatingDown:
			down++
		}
	}
	return up, down
}

func changePct(current, previous *float64) *float64 {
	if current == nil || previous == nil || *previous == 0 {
		return nil
	}
	v := (*current - *previous) / abs(*previous) * 100
	return &v
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

