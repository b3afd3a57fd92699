// Package interfaces defines service contracts for Revisor
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/revisor/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	SnapshotStore() SnapshotStore
	InternalStore() InternalStore
	ExportStore() ExportStore

	// Lifecycle
	Close() error
}

// SnapshotStore persists estimate snapshots keyed by
// (ticker, snapshot_date, fiscal_period). Lookups return nil, nil when no row matches.
type SnapshotStore interface {
	// SaveSnapshot upserts the first `limit` estimates for a ticker under
	// snapshotDate and returns the number of rows written. Empty input is a no-op.
	SaveSnapshot(ctx context.Context, ticker string, estimates []models.AnalystEstimate, snapshotDate time.Time, limit int) (int, error)

	// LatestSnapshot returns the most recent snapshot for a fiscal period.
	LatestSnapshot(ctx context.Context, ticker, fiscalPeriod string) (*models.EstimateSnapshot, error)

	// SnapshotOnOrBefore returns the most recent snapshot dated on or before date.
	SnapshotOnOrBefore(ctx context.Context, ticker, fiscalPeriod string, date time.Time) (*models.EstimateSnapshot, error)

	// EarliestFiscalPeriod returns the smallest fiscal period stored for the
	// ticker, or "" when the ticker has no snapshots.
	EarliestFiscalPeriod(ctx context.Context, ticker string) (string, error)

	// SnapshotsOn returns every snapshot taken on a date.
	SnapshotsOn(ctx context.Context, date time.Time) ([]models.EstimateSnapshot, error)

	// TickerHistory returns all snapshots for a ticker, newest date first
	// and fiscal period ascending within a date.
	TickerHistory(ctx context.Context, ticker string) ([]models.EstimateSnapshot, error)

	// ListTickers returns distinct tickers, sorted.
	ListTickers(ctx context.Context) ([]string, error)

	// SnapshotDates returns distinct snapshot dates, newest first.
	SnapshotDates(ctx context.Context) ([]time.Time, error)

	// Describe returns the backend name and location for status output.
	Describe() (backend, location string)

	Close() error
}

// KeyValueStore is the system-level configuration KV.
type KeyValueStore interface {
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error
}

// ScanRunStore records scan runs and their ranked output.
type ScanRunStore interface {
	SaveScanRun(ctx context.Context, run *models.ScanRun) error
	GetScanRun(ctx context.Context, id string) (*models.ScanRun, error)
	LatestScanRun(ctx context.Context) (*models.ScanRun, error)
	ListScanRuns(ctx context.Context, limit int) ([]models.ScanRunSummary, error)
	DeleteScanRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// InternalStore manages system KV and scan run history.
type InternalStore interface {
	KeyValueStore
	ScanRunStore
	Close() error
}

// ExportStore persists generated artifacts such as ranking workbooks and charts.
type ExportStore interface {
	WriteExport(ctx context.Context, kind, name string, data []byte) (string, error)
	ReadExport(ctx context.Context, kind, name string) ([]byte, error)
	ListExports(ctx context.Context, kind string) ([]models.ExportFile, error)
	PurgeOlderThan(ctx context.Context, kind string, cutoff time.Time) (int, error)
}
