// Package estimates tracks daily analyst estimate snapshots and derives
// revisions from the stored history.
package estimates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

// ErrNoClient is returned by operations that need the upstream API when the
// service was built without one.
var ErrNoClient = errors.New("estimates client not configured")

// Service implements EstimatesService
type Service struct {
	storage interfaces.StorageManager
	fmp     interfaces.FMPClient
	config  *common.Config
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a new estimates service. fmp may be nil for read-only use.
func NewService(
	storage interfaces.StorageManager,
	fmp interfaces.FMPClient,
	config *common.Config,
	logger *common.Logger,
) *Service {
	return &Service{
		storage: storage,
		fmp:     fmp,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source used to resolve "today".
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) today() time.Time {
	return common.DateOnly(s.now())
}

func (s *Service) store() interfaces.SnapshotStore {
	return s.storage.SnapshotStore()
}

// Capture fetches current estimates for every entry and saves them as
// today's snapshot. Fetch failures skip the ticker; a store failure aborts
// the batch.
func (s *Service) Capture(ctx context.Context, universe string, entries []models.UniverseEntry) (*models.CaptureResult, error) {
	if s.fmp == nil {
		return nil, ErrNoClient
	}

	start := time.Now()
	date := s.today()
	workers := s.config.Capture.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	periods := s.config.Capture.Periods
	if periods < 1 {
		periods = 4
	}

	s.logger.Info().
		Str("universe", universe).
		Str("date", date.Format(models.SnapshotDateFormat)).
		Int("tickers", len(entries)).
		Int("workers", workers).
		Msg("Capturing estimates snapshot")

	var saved, skipped, rows, done atomic.Int64
	total := len(entries)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range entries {
		ticker := models.NormalizeTicker(entry.Ticker)
		g.Go(func() error {
			defer func() {
				n := done.Add(1)
				if n%100 == 0 {
					s.logger.Info().Int64("done", n).Int("total", total).Msg("Capture progress")
				}
			}()

			ests, err := s.fmp.GetAnalystEstimates(gctx, ticker)
			if err != nil || len(ests) == 0 {
				skipped.Add(1)
				s.logger.Debug().Str("ticker", ticker).Err(err).Msg("No estimates captured")
				return nil
			}

			n, err := s.store().SaveSnapshot(gctx, ticker, ests, date, periods)
			if err != nil {
				return fmt.Errorf("failed to save snapshot for %s: %w", ticker, err)
			}
			saved.Add(1)
			rows.Add(int64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("universe", universe).Msg("Capture aborted")
		return nil, err
	}

	result := &models.CaptureResult{
		SnapshotDate: date,
		Universe:     universe,
		Total:        total,
		Saved:        int(saved.Load()),
		Skipped:      int(skipped.Load()),
		Rows:         int(rows.Load()),
		Duration:     time.Since(start),
	}

	s.logger.Info().
		Int("saved", result.Saved).
		Int("total", result.Total).
		Int("rows", result.Rows).
		Dur("duration", result.Duration).
		Msg("Snapshot complete")

	return result, nil
}

// GetRevision compares the latest snapshot of fiscalPeriod with the latest one
// dated on or before today-daysAgo. It returns nil when either is missing.
func (s *Service) GetRevision(ctx context.Context, ticker, fiscalPeriod string, daysAgo int) (*models.RevisionResult, error) {
	ticker = models.NormalizeTicker(ticker)

	current, err := s.store().LatestSnapshot(ctx, ticker, fiscalPeriod)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	cutoff := s.today().AddDate(0, 0, -daysAgo)
	past, err := s.store().SnapshotOnOrBefore(ctx, ticker, fiscalPeriod, cutoff)
	if err != nil {
		return nil, err
	}
	if past == nil {
		return nil, nil
	}

	return &models.RevisionResult{
		Ticker:             ticker,
		FiscalPeriod:       fiscalPeriod,
		CurrentDate:        current.SnapshotDate,
		PastDate:           past.SnapshotDate,
		DaysCompared:       daysBetween(past.SnapshotDate, current.SnapshotDate),
		CurrentEPS:         current.EPSAvg,
		PastEPS:            past.EPSAvg,
		EPSRevisionPct:     revisionPct(current.EPSAvg, past.EPSAvg),
		CurrentRevenue:     current.RevenueAvg,
		PastRevenue:        past.RevenueAvg,
		RevenueRevisionPct: revisionPct(current.RevenueAvg, past.RevenueAvg),
		CurrentNumAnalysts: current.NumAnalystsEPS,
		PastNumAnalysts:    past.NumAnalystsEPS,
	}, nil
}

// GetRevisionsSummary anchors on the ticker's earliest fiscal period and runs
// GetRevision for each window. It returns nil when the ticker has no history.
func (s *Service) GetRevisionsSummary(ctx context.Context, ticker string, days []int) (*models.RevisionSummary, error) {
	ticker = models.NormalizeTicker(ticker)
	if len(days) == 0 {
		days = s.config.Scan.RevisionDays
	}

	period, err := s.store().EarliestFiscalPeriod(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if period == "" {
		return nil, nil
	}

	summary := &models.RevisionSummary{
		Ticker:       ticker,
		FiscalPeriod: period,
		Windows:      make([]models.RevisionWindow, 0, len(days)),
	}
	for _, d := range days {
		rev, err := s.GetRevision(ctx, ticker, period, d)
		if err != nil {
			return nil, err
		}
		summary.Windows = append(summary.Windows, models.RevisionWindow{Days: d, Result: rev})
	}
	return summary, nil
}

// Status describes what the snapshot store holds.
func (s *Service) Status(ctx context.Context) (*models.TrackerStatus, error) {
	tickers, err := s.store().ListTickers(ctx)
	if err != nil {
		return nil, err
	}
	dates, err := s.store().SnapshotDates(ctx)
	if err != nil {
		return nil, err
	}

	backend, location := s.store().Describe()
	status := &models.TrackerStatus{
		Backend:        backend,
		Location:       location,
		TickersTracked: len(tickers),
		SnapshotDates:  len(dates),
		Stale:          true,
	}
	if len(dates) > 0 {
		status.LatestDate = dates[0]
		status.OldestDate = dates[len(dates)-1]
		status.Stale = s.today().Sub(status.LatestDate) > common.StaleTrackerAfter
	}
	return status, nil
}

// TickerHistory returns every stored snapshot for ticker.
func (s *Service) TickerHistory(ctx context.Context, ticker string) ([]models.EstimateSnapshot, error) {
	return s.store().TickerHistory(ctx, models.NormalizeTicker(ticker))
}

// EPSHistory labels the first three fiscal periods with EPS on each snapshot
// date as FY1..FY3. Points are returned oldest first.
func (s *Service) EPSHistory(ctx context.Context, ticker string) ([]models.EPSHistoryPoint, error) {
	snaps, err := s.TickerHistory(ctx, ticker)
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time][]models.EstimateSnapshot)
	var dates []time.Time
	for _, snap := range snaps {
		if snap.EPSAvg == nil {
			continue
		}
		if _, ok := byDate[snap.SnapshotDate]; !ok {
			dates = append(dates, snap.SnapshotDate)
		}
		byDate[snap.SnapshotDate] = append(byDate[snap.SnapshotDate], snap)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	points := make([]models.EPSHistoryPoint, 0, len(dates))
	for _, d := range dates {
		day := byDate[d]
		sort.Slice(day, func(i, j int) bool { return day[i].FiscalPeriod < day[j].FiscalPeriod })

		p := models.EPSHistoryPoint{SnapshotDate: d}
		for i, snap := range day {
			if i >= 3 {
				break
			}
			switch i {
			case 0:
				p.FY1, p.FY1Period = snap.EPSAvg, snap.FiscalPeriod
			case 1:
				p.FY2, p.FY2Period = snap.EPSAvg, snap.FiscalPeriod
			case 2:
				p.FY3, p.FY3Period = snap.EPSAvg, snap.FiscalPeriod
			}
		}
		points = append(points, p)
	}
	return points, nil
}

// revisionPct returns (current-past)/|past|*100, or nil when either value is
// missing or past is zero.
func revisionPct(current, past *float64) *float64 {
	if current == nil || past == nil || *past == 0 {
		return nil
	}
	v := (*current - *past) / abs(*past) * 100
	return &v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func daysBetween(from, to time.Time) int {
	return int(common.DateOnly(to).Sub(common.DateOnly(from)).Hours() / 24)
}
