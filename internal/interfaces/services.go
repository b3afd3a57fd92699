// Package interfaces defines service contracts for Revisor
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/revisor/internal/models"
)

// EstimatesService tracks estimate snapshots and computes revisions from them.
type EstimatesService interface {
	// Capture fetches and stores today's estimates for every ticker.
	Capture(ctx context.Context, universe string, entries []models.UniverseEntry) (*models.CaptureResult, error)

	// GetRevision compares the latest snapshot with the one on or before today-daysAgo.
	GetRevision(ctx context.Context, ticker, fiscalPeriod string, daysAgo int) (*models.RevisionResult, error)

	// GetRevisionsSummary runs GetRevision for each window on the nearest fiscal period.
	GetRevisionsSummary(ctx context.Context, ticker string, days []int) (*models.RevisionSummary, error)

	Status(ctx context.Context) (*models.TrackerStatus, error)
	TickerHistory(ctx context.Context, ticker string) ([]models.EstimateSnapshot, error)
	EPSHistory(ctx context.Context, ticker string) ([]models.EPSHistoryPoint, error)
	RenderEPSHistoryChart(ctx context.Context, ticker string) ([]byte, error)
	CompareDates(ctx context.Context, from, to time.Time, tickers []string) ([]models.EstimateComparison, error)
	SectorSummary(ctx context.Context, from, to time.Time, sectors map[string]string) ([]models.SectorRevision, error)
	ScreenPositiveTrends(ctx context.Context, minDays int) ([]models.RevisionTrend, error)
}

// UniverseService loads named reference lists.
type UniverseService interface {
	Load(ctx context.Context, name string) ([]models.UniverseEntry, error)
	Available() []string
}

// RankingService scores tickers and runs ranking scans.
type RankingService interface {
	// ScoreTicker builds the metrics record for one ticker. A nil record with
	// a nil error means the ticker has no estimates and was skipped.
	ScoreTicker(ctx context.Context, ticker string) (*models.TickerMetrics, error)

	// Scan scores every entry and returns them ranked by score.
	Scan(ctx context.Context, entries []models.UniverseEntry, opts models.ScanOptions, progress ProgressFunc) (*models.RankedUniverse, error)
}

// ProgressFunc receives scan progress from a single goroutine.
type ProgressFunc func(models.ScanProgress)

// ReportService stores generated artifacts.
type ReportService interface {
	ExportRanking(ctx context.Context, universe *models.RankedUniverse, name string) (string, error)
	PurgeExports(ctx context.Context, retain time.Duration) (int, error)
}
