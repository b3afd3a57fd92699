// Package pgsnapshots implements SnapshotStore on PostgreSQL for shared deployments.
package pgsnapshots

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const snapshotColumns = `ticker, snapshot_date, fiscal_period,
	eps_avg, eps_high, eps_low,
	revenue_avg, revenue_high, revenue_low,
	num_analysts_eps, num_analysts_revenue, created_at`

// Store implements interfaces.SnapshotStore backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *common.Logger
	host   string
}

// NewStore connects to databaseURL and applies pending migrations.
func NewStore(ctx context.Context, logger *common.Logger, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	host := pool.Config().ConnConfig.Host
	logger.Info().Str("host", host).Msg("Postgres snapshot store opened")
	return &Store{pool: pool, logger: logger, host: host}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SaveSnapshot upserts up to limit estimates in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, ticker string, estimates []models.AnalystEstimate, snapshotDate time.Time, limit int) (int, error) {
	snaps := models.SnapshotsFromEstimates(ticker, estimates, snapshotDate, limit)
	if len(snaps) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO estimate_snapshots (`+snapshotColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			ON CONFLICT (ticker, snapshot_date, fiscal_period) DO UPDATE SET
				eps_avg = EXCLUDED.eps_avg,
				eps_high = EXCLUDED.eps_high,
				eps_low = EXCLUDED.eps_low,
				revenue_avg = EXCLUDED.revenue_avg,
				revenue_high = EXCLUDED.revenue_high,
				revenue_low = EXCLUDED.revenue_low,
				num_analysts_eps = EXCLUDED.num_analysts_eps,
				num_analysts_revenue = EXCLUDED.num_analysts_revenue,
				created_at = NOW()
		`,
			snap.Ticker, snap.SnapshotDate, snap.FiscalPeriod,
			snap.EPSAvg, snap.EPSHigh, snap.EPSLow,
			snap.RevenueAvg, snap.RevenueHigh, snap.RevenueLow,
			snap.NumAnalystsEPS, snap.NumAnalystsRevenue,
		)
	}

	br := tx.SendBatch(ctx, batch)
	count := 0
	for range snaps {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to upsert snapshot for %s: %w", ticker, err)
		}
		count++
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close snapshot batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot for %s: %w", ticker, err)
	}
	return count, nil
}

func scanSnapshot(row pgx.Row) (models.EstimateSnapshot, error) {
	var snap models.EstimateSnapshot
	err := row.Scan(
		&snap.Ticker, &snap.SnapshotDate, &snap.FiscalPeriod,
		&snap.EPSAvg, &snap.EPSHigh, &snap.EPSLow,
		&snap.RevenueAvg, &snap.RevenueHigh, &snap.RevenueLow,
		&snap.NumAnalystsEPS, &snap.NumAnalystsRevenue, &snap.CreatedAt,
	)
	return snap, err
}

func (s *Store) queryOne(ctx context.Context, sql string, args ...any) (*models.EstimateSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, sql, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) queryMany(ctx context.Context, sql string, args ...any) ([]models.EstimateSnapshot, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EstimateSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent snapshot for a fiscal period.
func (s *Store) LatestSnapshot(ctx context.Context, ticker, fiscalPeriod string) (*models.EstimateSnapshot, error) {
	snap, err := s.queryOne(ctx, `
		SELECT `+snapshotColumns+` FROM estimate_snapshots
		WHERE ticker = $1 AND fiscal_period = $2
		ORDER BY snapshot_date DESC LIMIT 1`, ticker, fiscalPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s %s: %w", ticker, fiscalPeriod, err)
	}
	return snap, nil
}

// SnapshotOnOrBefore returns the most recent snapshot dated on or before date.
func (s *Store) SnapshotOnOrBefore(ctx context.Context, ticker, fiscalPeriod string, date time.Time) (*models.EstimateSnapshot, error) {
	snap, err := s.queryOne(ctx, `
		SELECT `+snapshotColumns+` FROM estimate_snapshots
		WHERE ticker = $1 AND fiscal_period = $2 AND snapshot_date <= $3
		ORDER BY snapshot_date DESC LIMIT 1`, ticker, fiscalPeriod, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for %s %s on or before %s: %w",
			ticker, fiscalPeriod, date.Format(models.SnapshotDateFormat), err)
	}
	return snap, nil
}

// EarliestFiscalPeriod returns the smallest stored fiscal period for ticker.
func (s *Store) EarliestFiscalPeriod(ctx context.Context, ticker string) (string, error) {
	var period *string
	err := s.pool.QueryRow(ctx, `SELECT MIN(fiscal_period) FROM estimate_snapshots WHERE ticker = $1`, ticker).Scan(&period)
	if err != nil {
		return "", fmt.Errorf("failed to get fiscal periods for %s: %w", ticker, err)
	}
	if period == nil {
		return "", nil
	}
	return *period, nil
}

// SnapshotsOn returns every snapshot taken on date.
func (s *Store) SnapshotsOn(ctx context.Context, date time.Time) ([]models.EstimateSnapshot, error) {
	out, err := s.queryMany(ctx, `
		SELECT `+snapshotColumns+` FROM estimate_snapshots
		WHERE snapshot_date = $1
		ORDER BY ticker ASC, fiscal_period ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots for %s: %w", date.Format(models.SnapshotDateFormat), err)
	}
	return out, nil
}

// TickerHistory returns all snapshots for ticker.
func (s *Store) TickerHistory(ctx context.Context, ticker string) ([]models.EstimateSnapshot, error) {
	out, err := s.queryMany(ctx, `
		SELECT `+snapshotColumns+` FROM estimate_snapshots
		WHERE ticker = $1
		ORDER BY snapshot_date DESC, fiscal_period ASC`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", ticker, err)
	}
	return out, nil
}

// ListTickers returns distinct tickers.
func (s *Store) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ticker FROM estimate_snapshots ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	tickers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	return tickers, nil
}

// SnapshotDates returns distinct snapshot dates, newest first.
func (s *Store) SnapshotDates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT snapshot_date FROM estimate_snapshots ORDER BY snapshot_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot dates: %w", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot dates: %w", err)
	}
	return dates, nil
}

// Describe returns the backend name and host.
func (s *Store) Describe() (string, string) {
	return "postgres", s.host
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
