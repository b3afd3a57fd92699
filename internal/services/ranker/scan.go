package ranker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
)

var _ interfaces.RankingService = (*Service)(nil)

// outcome is one finished ticker, sent from a worker to the aggregator.
type outcome struct {
	index   int
	ticker  string
	metrics *models.TickerMetrics
	err     error
	failure models.FetchFailure
}

// Scan scores every entry and ranks the results by score, highest first.
// Skipped and failed tickers are left out of the rows and counted in the
// stats. Cancelling ctx stops dispatch; whatever already finished is still
// ranked and returned with Stats.Cancelled set.
func (s *Service) Scan(ctx context.Context, entries []models.UniverseEntry, opts models.ScanOptions, progress interfaces.ProgressFunc) (*models.RankedUniverse, error) {
	if s.fmp == nil {
		return nil, fmt.Errorf("scan requires an estimates client")
	}

	entries = append([]models.UniverseEntry(nil), models.FilterUniverse(entries, opts.Sectors, opts.MaxStocks)...)
	for i := range entries {
		entries[i].Ticker = models.NormalizeTicker(entries[i].Ticker)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.config.Scan.MaxWorkers
	}
	if workers <= 0 || opts.Sequential {
		workers = 1
	}
	parallel := !opts.Sequential && workers > 1

	s.logger.Info().
		Str("universe", opts.Universe).
		Int("tickers", len(entries)).
		Int("workers", workers).
		Bool("parallel", parallel).
		Msg("Starting ranking scan")

	start := time.Now()
	agg := newAggregator(len(entries), progress)

	if parallel {
		s.scanParallel(ctx, entries, workers, agg)
	} else {
		s.scanSequential(ctx, entries, agg)
	}

	stats := agg.stats
	stats.Workers = workers
	stats.Parallel = parallel
	stats.Duration = time.Since(start)
	stats.Cancelled = ctx.Err() != nil && agg.completed() < len(entries)

	rows := rank(agg.results, entries)

	s.logger.Info().
		Str("universe", opts.Universe).
		Int("scored", stats.Scored).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Bool("cancelled", stats.Cancelled).
		Dur("duration", stats.Duration).
		Msg("Ranking scan complete")

	return &models.RankedUniverse{
		Universe:    opts.Universe,
		GeneratedAt: s.now(),
		Rows:        rows,
		Stats:       stats,
	}, nil
}

// scanParallel runs a fixed pool of workers over a job channel. Workers send
// outcomes to a results channel drained here, so the aggregator is only ever
// touched by the calling goroutine.
func (s *Service) scanParallel(ctx context.Context, entries []models.UniverseEntry, workers int, agg *aggregator) {
	jobs := make(chan int)
	results := make(chan outcome, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- s.scoreSafely(ctx, i, entries[i].Ticker)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range entries {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for out := range results {
		agg.add(out)
	}
}

// scanSequential scores one ticker at a time with a pause between requests.
func (s *Service) scanSequential(ctx context.Context, entries []models.UniverseEntry, agg *aggregator) {
	delay := s.config.Scan.GetSequentialDelay()
	for i, e := range entries {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		agg.add(s.scoreSafely(ctx, i, e.Ticker))
	}
}

// scoreSafely runs ScoreTicker and converts a panic into a failed outcome.
func (s *Service) scoreSafely(ctx context.Context, index int, ticker string) (out outcome) {
	out = outcome{index: index, ticker: ticker}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("ticker", ticker).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while scoring ticker")
			out.metrics = nil
			out.err = fmt.Errorf("panic scoring %s: %v", ticker, r)
			out.failure = models.FailurePanic
		}
	}()

	out.metrics, out.err = s.ScoreTicker(ctx, ticker)
	if out.err != nil {
		out.failure = fmp.Classify(out.err)
		s.logger.Warn().Str("ticker", ticker).Str("kind", string(out.failure)).Err(out.err).Msg("Ticker failed")
	}
	return out
}

// aggregator owns the progress counter and the collected rows.
type aggregator struct {
	total    int
	progress interfaces.ProgressFunc
	stats    models.ScanStats
	results  []outcome
}

func newAggregator(total int, progress interfaces.ProgressFunc) *aggregator {
	return &aggregator{
		total:    total,
		progress: progress,
		stats:    models.ScanStats{Total: total},
	}
}

func (a *aggregator) add(out outcome) {
	switch {
	case out.err != nil:
		a.stats.Failed++
		if a.stats.Failures == nil {
			a.stats.Failures = make(map[models.FetchFailure]int)
		}
		a.stats.Failures[out.failure]++
	case out.metrics == nil:
		a.stats.Skipped++
	default:
		a.stats.Scored++
		a.results = append(a.results, out)
	}

	if a.progress != nil {
		a.progress(models.ScanProgress{
			Ticker:    out.ticker,
			Completed: a.completed(),
			Total:     a.total,
		})
	}
}

func (a *aggregator) completed() int {
	return a.stats.Scored + a.stats.Skipped + a.stats.Failed
}

// rank annotates sector and industry from the universe, orders rows by score
// descending (universe order breaks ties) and assigns 1-based ranks.
func rank(results []outcome, entries []models.UniverseEntry) []models.TickerMetrics {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	rows := make([]models.TickerMetrics, 0, len(results))
	for _, r := range results {
		m := *r.metrics
		e := entries[r.index]
		if e.Sector != "" {
			m.Sector = e.Sector
		}
		if e.Industry != "" {
			m.Industry = e.Industry
		}
		rows = append(rows, m)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].RevisionStrengthScore > rows[j].RevisionStrengthScore
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
