// Package snapshotdb implements SnapshotStore on SQLite using GORM.
package snapshotdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// snapshotRow is the estimate_snapshots table. Dates are stored as
// YYYY-MM-DD text so they compare lexically.
type snapshotRow struct {
	ID                 uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Ticker             string    `gorm:"column:ticker;not null;uniqueIndex:idx_snapshot_key,priority:1;index:idx_ticker_date,priority:1"`
	SnapshotDate       string    `gorm:"column:snapshot_date;not null;uniqueIndex:idx_snapshot_key,priority:2;index:idx_ticker_date,priority:2;index:idx_snapshot_date"`
	FiscalPeriod       string    `gorm:"column:fiscal_period;not null;uniqueIndex:idx_snapshot_key,priority:3"`
	EPSAvg             *float64  `gorm:"column:eps_avg"`
	EPSHigh            *float64  `gorm:"column:eps_high"`
	EPSLow             *float64  `gorm:"column:eps_low"`
	RevenueAvg         *float64  `gorm:"column:revenue_avg"`
	RevenueHigh        *float64  `gorm:"column:revenue_high"`
	RevenueLow         *float64  `gorm:"column:revenue_low"`
	NumAnalystsEPS     *int      `gorm:"column:num_analysts_eps"`
	NumAnalystsRevenue *int      `gorm:"column:num_analysts_revenue"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

func (snapshotRow) TableName() string { return "estimate_snapshots" }

// Store implements interfaces.SnapshotStore on a local SQLite file.
type Store struct {
	db     *gorm.DB
	path   string
	logger *common.Logger

	// Serialises writers; SQLite allows a single writer per file.
	writeMu sync.Mutex
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot db directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db at %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access snapshot db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate snapshot db: %w", err)
	}

	logger.Info().Str("path", path).Msg("SnapshotDB opened")
	return &Store{db: db, path: path, logger: logger}, nil
}

func formatDate(t time.Time) string {
	return t.Format(models.SnapshotDateFormat)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(models.SnapshotDateFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toRow(s models.EstimateSnapshot, now time.Time) snapshotRow {
	return snapshotRow{
		Ticker:             s.Ticker,
		SnapshotDate:       formatDate(s.SnapshotDate),
		FiscalPeriod:       s.FiscalPeriod,
		EPSAvg:             s.EPSAvg,
		EPSHigh:            s.EPSHigh,
		EPSLow:             s.EPSLow,
		RevenueAvg:         s.RevenueAvg,
		RevenueHigh:        s.RevenueHigh,
		RevenueLow:         s.RevenueLow,
		NumAnalystsEPS:     s.NumAnalystsEPS,
		NumAnalystsRevenue: s.NumAnalystsRevenue,
		CreatedAt:          now,
	}
}

func (r snapshotRow) toModel() models.EstimateSnapshot {
	return models.EstimateSnapshot{
		Ticker:             r.Ticker,
		SnapshotDate:       parseDate(r.SnapshotDate),
		FiscalPeriod:       r.FiscalPeriod,
		EPSAvg:             r.EPSAvg,
		EPSHigh:            r.EPSHigh,
		EPSLow:             r.EPSLow,
		RevenueAvg:         r.RevenueAvg,
		RevenueHigh:        r.RevenueHigh,
		RevenueLow:         r.RevenueLow,
		NumAnalystsEPS:     r.NumAnalystsEPS,
		NumAnalystsRevenue: r.NumAnalystsRevenue,
		CreatedAt:          r.CreatedAt,
	}
}

func toModels(rows []snapshotRow) []models.EstimateSnapshot {
	out := make([]models.EstimateSnapshot, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

// SaveSnapshot upserts up to limit estimates in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, ticker string, estimates []models.AnalystEstimate, snapshotDate time.Time, limit int) (int, error) {
	snaps := models.SnapshotsFromEstimates(ticker, estimates, snapshotDate, limit)
	if len(snaps) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]snapshotRow, len(snaps))
	for i, snap := range snaps {
		rows[i] = toRow(snap, now)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ticker"}, {Name: "snapshot_date"}, {Name: "fiscal_period"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"eps_avg", "eps_high", "eps_low",
				"revenue_avg", "revenue_high", "revenue_low",
				"num_analysts_eps", "num_analysts_revenue", "created_at",
			}),
		}).Create(&rows).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot for %s: %w", ticker, err)
	}

	s.logger.Debug().Str("ticker", ticker).Str("date", formatDate(snapshotDate)).Int("rows", len(rows)).Msg("Snapshot saved")
	return len(rows), nil
}

func (s *Store) first(ctx context.Context, query *gorm.DB) (*models.EstimateSnapshot, error) {
	var rows []snapshotRow
	if err := query.WithContext(ctx).Order("snapshot_date DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	snap := rows[0].toModel()
	return &snap, nil
}

// LatestSnapshot returns the most recent snapshot for a fiscal period.
func (s *Store) LatestSnapshot(ctx context.Context, ticker, fiscalPeriod string) (*models.EstimateSnapshot, error) {
	snap, err := s.first(ctx, s.db.Where("ticker = ? AND fiscal_period = ?", ticker, fiscalPeriod))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s %s: %w", ticker, fiscalPeriod, err)
	}
	return snap, nil
}

// SnapshotOnOrBefore returns the most recent snapshot dated on or before date.
func (s *Store) SnapshotOnOrBefore(ctx context.Context, ticker, fiscalPeriod string, date time.Time) (*models.EstimateSnapshot, error) {
	snap, err := s.first(ctx, s.db.Where("ticker = ? AND fiscal_period = ? AND snapshot_date <= ?", ticker, fiscalPeriod, formatDate(date)))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for %s %s on or before %s: %w", ticker, fiscalPeriod, formatDate(date), err)
	}
	return snap, nil
}

// EarliestFiscalPeriod returns the smallest stored fiscal period for ticker.
func (s *Store) EarliestFiscalPeriod(ctx context.Context, ticker string) (string, error) {
	var period sql.NullString
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Select("MIN(fiscal_period)").
		Where("ticker = ?", ticker).
		Row().Scan(&period)
	if err != nil {
		return "", fmt.Errorf("failed to get fiscal periods for %s: %w", ticker, err)
	}
	return period.String, nil
}

// SnapshotsOn returns every snapshot taken on date.
func (s *Store) SnapshotsOn(ctx context.Context, date time.Time) ([]models.EstimateSnapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Where("snapshot_date = ?", formatDate(date)).
		Order("ticker ASC, fiscal_period ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots for %s: %w", formatDate(date), err)
	}
	return toModels(rows), nil
}

// TickerHistory returns all snapshots for ticker.
func (s *Store) TickerHistory(ctx context.Context, ticker string) ([]models.EstimateSnapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("snapshot_date DESC, fiscal_period ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", ticker, err)
	}
	return toModels(rows), nil
}

// ListTickers returns distinct tickers.
func (s *Store) ListTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Distinct("ticker").
		Order("ticker ASC").
		Pluck("ticker", &tickers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	return tickers, nil
}

// SnapshotDates returns distinct snapshot dates, newest first.
func (s *Store) SnapshotDates(ctx context.Context) ([]time.Time, error) {
	var raw []string
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Distinct("snapshot_date").
		Order("snapshot_date DESC").
		Pluck("snapshot_date", &raw).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot dates: %w", err)
	}
	dates := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		if t := parseDate(d); !t.IsZero() {
			dates = append(dates, t)
		}
	}
	return dates, nil
}

// Describe returns the backend name and database path.
func (s *Store) Describe() (string, string) {
	return "sqlite", s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
