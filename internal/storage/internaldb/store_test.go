package internaldb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

func newUnitTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(common.NewSilentLogger(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSystemKV(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	val, err := store.GetSystemKV(ctx, "fmp_api_key")
	require.NoError(t, err)
	assert.Equal(t, "", val, "unset key returns empty string")

	require.NoError(t, store.SetSystemKV(ctx, "fmp_api_key", "abc"))
	require.NoError(t, store.SetSystemKV(ctx, "fmp_api_key", "def"))

	val, err = store.GetSystemKV(ctx, "fmp_api_key")
	require.NoError(t, err)
	assert.Equal(t, "def", val)

	var kv models.SystemKeyValue
	require.NoError(t, store.db.Get(systemKey("fmp_api_key"), &kv))
	assert.Equal(t, 2, kv.Version)
}

func ptr[T any](v T) *T { return &v }

func completedRun(id string, created time.Time) *models.ScanRun {
	return &models.ScanRun{
		ID:          id,
		State:       models.ScanComplete,
		Options:     models.ScanOptions{Universe: "master"},
		CreatedAt:   created,
		CompletedAt: created.Add(time.Minute),
		Result: &models.RankedUniverse{
			Universe: "master",
			Rows: []models.TickerMetrics{{
				Ticker:          "AAPL",
				Score:           models.ScoreBreakdown{Total: 42.5},
				CurrentEPSQ1:    ptr(1.5),
				RevisionWindows: map[string]*float64{"eps_rev_30d": nil, "eps_rev_7d": ptr(2.0)},
			}},
			Stats: models.ScanStats{Total: 1, Scored: 1, Failures: map[models.FetchFailure]int{}},
		},
	}
}

func TestScanRun_SaveAndGet(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	run := completedRun("run-1", time.Now().Add(-time.Hour))
	require.NoError(t, store.SaveScanRun(ctx, run))

	got, err := store.GetScanRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScanComplete, got.State)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Rows, 1)
	assert.Equal(t, 42.5, got.Result.Rows[0].Score.Total)
	assert.Nil(t, got.Result.Rows[0].RevisionWindows["eps_rev_30d"])
	assert.Equal(t, 2.0, *got.Result.Rows[0].RevisionWindows["eps_rev_7d"])

	_, err = store.GetScanRun(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrScanRunNotFound))

	assert.Error(t, store.SaveScanRun(ctx, &models.ScanRun{}))
}

func TestScanRun_LatestSkipsIncomplete(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestScanRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	now := time.Now()
	require.NoError(t, store.SaveScanRun(ctx, completedRun("old", now.Add(-2*time.Hour))))
	require.NoError(t, store.SaveScanRun(ctx, completedRun("new", now.Add(-time.Hour))))
	require.NoError(t, store.SaveScanRun(ctx, &models.ScanRun{ID: "running", State: models.ScanRunning, CreatedAt: now}))

	latest, err = store.LatestScanRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.ID)
}

func TestScanRun_ListAndPrune(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveScanRun(ctx, completedRun(id, now.Add(time.Duration(-3+i)*24*time.Hour))))
	}

	list, err := store.ListScanRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	require.NotNil(t, list[0].Stats)
	assert.Equal(t, 1, list[0].Stats.Scored)
	assert.Equal(t, "master", list[0].Universe)

	deleted, err := store.DeleteScanRunsBefore(ctx, now.Add(-36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	list, err = store.ListScanRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].ID)
}
