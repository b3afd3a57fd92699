package jobmanager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bobmcallan/revisor/internal/models"
)

// KV keys recording the last capture batch.
const (
	kvLastCaptureUniverse = "last_capture_universe"
	kvLastCaptureAt       = "last_capture_at"
	kvLastCaptureSaved    = "last_capture_saved"
	kvLastCaptureTotal    = "last_capture_total"
	kvLastCaptureError    = "last_capture_error"
)

// Capture loads a universe and stores today's estimate snapshot for it. The
// outcome is recorded for LastCapture whether or not the batch succeeded.
func (jm *JobManager) Capture(ctx context.Context, universe string) (*models.CaptureResult, error) {
	entries, err := jm.universes.Load(ctx, universe)
	if err != nil {
		jm.recordCapture(ctx, universe, nil, err)
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	result, err := jm.tracker.Capture(ctx, universe, entries)
	jm.recordCapture(ctx, universe, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (jm *JobManager) recordCapture(ctx context.Context, universe string, result *models.CaptureResult, capErr error) {
	store := jm.storage.InternalStore()
	ctx = context.WithoutCancel(ctx)

	values := map[string]string{
		kvLastCaptureUniverse: universe,
		kvLastCaptureAt:       jm.now().UTC().Format(time.RFC3339),
		kvLastCaptureError:    "",
		kvLastCaptureSaved:    "0",
		kvLastCaptureTotal:    "0",
	}
	if capErr != nil {
		values[kvLastCaptureError] = capErr.Error()
	}
	if result != nil {
		values[kvLastCaptureSaved] = strconv.Itoa(result.Saved)
		values[kvLastCaptureTotal] = strconv.Itoa(result.Total)
	}
	for k, v := range values {
		if err := store.SetSystemKV(ctx, k, v); err != nil {
			jm.logger.Warn().Str("key", k).Err(err).Msg("Failed to record capture outcome")
		}
	}
}

// LastCapture returns the most recent capture outcome, or nil if none ran.
func (jm *JobManager) LastCapture(ctx context.Context) *models.CaptureRecord {
	store := jm.storage.InternalStore()

	ts, _ := store.GetSystemKV(ctx, kvLastCaptureAt)
	if ts == "" {
		return nil
	}

	rec := &models.CaptureRecord{}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		rec.CompletedAt = t
	}
	rec.Universe, _ = store.GetSystemKV(ctx, kvLastCaptureUniverse)
	rec.Error, _ = store.GetSystemKV(ctx, kvLastCaptureError)
	if v, err := store.GetSystemKV(ctx, kvLastCaptureSaved); err == nil {
		rec.Saved, _ = strconv.Atoi(v)
	}
	if v, err := store.GetSystemKV(ctx, kvLastCaptureTotal); err == nil {
		rec.Total, _ = strconv.Atoi(v)
	}
	return rec
}
