// Package internaldb implements InternalStore using BadgerHold.
// It holds system-level key-value config and scan run history.
package internaldb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

// Store implements interfaces.InternalStore using BadgerHold.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// systemPrefix namespaces system KV records so a key can never collide with
// another record type sharing the badger keyspace.
const systemPrefix = "__system__"

// kvSep separates the namespace from the key.
const kvSep = "\x00"

// NewStore creates a new InternalStore backed by BadgerHold.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create internal db path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	// Scan results carry maps with nil pointer values, which gob rejects.
	opts.Encoder = json.Marshal
	opts.Decoder = json.Unmarshal
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open internal db at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("InternalDB opened")
	return &Store{db: db, logger: logger}, nil
}

// --- System key-value ---

func systemKey(key string) string {
	return systemPrefix + kvSep + key
}

// GetSystemKV returns the value for key, or "" when unset.
func (s *Store) GetSystemKV(_ context.Context, key string) (string, error) {
	var kv models.SystemKeyValue
	if err := s.db.Get(systemKey(key), &kv); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system kv '%s': %w", key, err)
	}
	return kv.Value, nil
}

// SetSystemKV upserts key, bumping its version.
func (s *Store) SetSystemKV(_ context.Context, key, value string) error {
	compositeKey := systemKey(key)

	var existing models.SystemKeyValue
	version := 1
	if err := s.db.Get(compositeKey, &existing); err == nil {
		version = existing.Version + 1
	}

	kv := &models.SystemKeyValue{
		Key:      key,
		Value:    value,
		Version:  version,
		DateTime: time.Now(),
	}
	if err := s.db.Upsert(compositeKey, kv); err != nil {
		return fmt.Errorf("failed to set system kv '%s': %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("version", version).Msg("System KV saved")
	return nil
}

// --- Scan runs ---

// SaveScanRun upserts a run by ID.
func (s *Store) SaveScanRun(_ context.Context, run *models.ScanRun) error {
	if run.ID == "" {
		return fmt.Errorf("scan run ID is required")
	}
	if err := s.db.Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save scan run '%s': %w", run.ID, err)
	}
	s.logger.Debug().Str("run_id", run.ID).Str("state", string(run.State)).Msg("Scan run saved")
	return nil
}

// GetScanRun returns a run or models.ErrScanRunNotFound.
func (s *Store) GetScanRun(_ context.Context, id string) (*models.ScanRun, error) {
	var run models.ScanRun
	if err := s.db.Get(id, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("scan run '%s': %w", id, models.ErrScanRunNotFound)
		}
		return nil, fmt.Errorf("failed to get scan run '%s': %w", id, err)
	}
	return &run, nil
}

// LatestScanRun returns the most recently created COMPLETE run, or nil.
func (s *Store) LatestScanRun(_ context.Context) (*models.ScanRun, error) {
	var runs []models.ScanRun
	if err := s.db.Find(&runs, badgerhold.Where("State").Eq(models.ScanComplete)); err != nil {
		return nil, fmt.Errorf("failed to find completed scan runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	sortNewestFirst(runs)
	return &runs[0], nil
}

// ListScanRuns returns run summaries, newest first. limit <= 0 means all.
func (s *Store) ListScanRuns(_ context.Context, limit int) ([]models.ScanRunSummary, error) {
	var runs []models.ScanRun
	if err := s.db.Find(&runs, nil); err != nil {
		return nil, fmt.Errorf("failed to list scan runs: %w", err)
	}
	sortNewestFirst(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]models.ScanRunSummary, len(runs))
	for i := range runs {
		out[i] = runs[i].Summary()
	}
	return out, nil
}

// DeleteScanRunsBefore removes runs created before cutoff and returns the count.
func (s *Store) DeleteScanRunsBefore(_ context.Context, cutoff time.Time) (int, error) {
	var runs []models.ScanRun
	if err := s.db.Find(&runs, nil); err != nil {
		return 0, fmt.Errorf("failed to list scan runs: %w", err)
	}
	deleted := 0
	for _, run := range runs {
		if !run.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Delete(run.ID, models.ScanRun{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, fmt.Errorf("failed to delete scan run '%s': %w", run.ID, err)
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("Pruned scan runs")
	}
	return deleted, nil
}

func sortNewestFirst(runs []models.ScanRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
