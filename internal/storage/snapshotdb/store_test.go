package snapshotdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

func newUnitTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "estimates_history.db")
	store, err := NewStore(common.NewSilentLogger(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func day(s string) time.Time {
	t, _ := time.Parse(models.SnapshotDateFormat, s)
	return t
}

func estimates(eps ...float64) []models.AnalystEstimate {
	periods := []string{"2025-12-31", "2026-03-31", "2026-06-30", "2026-09-30", "2026-12-31", "2027-03-31"}
	out := make([]models.AnalystEstimate, len(eps))
	for i, e := range eps {
		out[i] = models.AnalystEstimate{
			Date:           periods[i],
			EPSAvg:         ptr(e),
			RevenueAvg:     ptr(e * 1e9),
			NumAnalystsEPS: ptr(10 + i),
		}
	}
	return out
}

func TestSaveSnapshot_FirstFourPeriods(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	n, err := store.SaveSnapshot(ctx, "AAPL", estimates(1, 2, 3, 4, 5, 6), day("2025-06-01"), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows, err := store.SnapshotsOn(ctx, day("2025-06-01"))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "2025-12-31", rows[0].FiscalPeriod)
	assert.Equal(t, "2026-09-30", rows[3].FiscalPeriod)
}

func TestSaveSnapshot_EmptyIsNoop(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	n, err := store.SaveSnapshot(ctx, "AAPL", nil, day("2025-06-01"), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tickers, err := store.ListTickers(ctx)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

func TestSaveSnapshot_IdempotentReplace(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()
	date := day("2025-06-01")

	_, err := store.SaveSnapshot(ctx, "MSFT", estimates(3.0, 3.2), date, 4)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "MSFT", estimates(3.5, 3.6), date, 4)
	require.NoError(t, err)

	rows, err := store.TickerHistory(ctx, "MSFT")
	require.NoError(t, err)
	require.Len(t, rows, 2, "re-saving the same key must not duplicate rows")
	assert.Equal(t, 3.5, *rows[0].EPSAvg)
	assert.Equal(t, 3.6, *rows[1].EPSAvg)
}

func TestSaveSnapshot_UnknownPeriod(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	_, err := store.SaveSnapshot(ctx, "XYZ", []models.AnalystEstimate{{EPSAvg: ptr(1.0)}}, day("2025-06-01"), 4)
	require.NoError(t, err)

	snap, err := store.LatestSnapshot(ctx, "XYZ", models.UnknownFiscalPeriod)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1.0, *snap.EPSAvg)
}

func TestLatestAndOnOrBefore(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	for i, d := range []string{"2025-05-01", "2025-05-20", "2025-06-01"} {
		_, err := store.SaveSnapshot(ctx, "NVDA", estimates(float64(i+1)), day(d), 4)
		require.NoError(t, err)
	}

	latest, err := store.LatestSnapshot(ctx, "NVDA", "2025-12-31")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, day("2025-06-01"), latest.SnapshotDate)
	assert.Equal(t, 3.0, *latest.EPSAvg)

	past, err := store.SnapshotOnOrBefore(ctx, "NVDA", "2025-12-31", day("2025-05-25"))
	require.NoError(t, err)
	require.NotNil(t, past)
	assert.Equal(t, day("2025-05-20"), past.SnapshotDate)

	exact, err := store.SnapshotOnOrBefore(ctx, "NVDA", "2025-12-31", day("2025-05-01"))
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, day("2025-05-01"), exact.SnapshotDate)

	none, err := store.SnapshotOnOrBefore(ctx, "NVDA", "2025-12-31", day("2025-04-01"))
	require.NoError(t, err)
	assert.Nil(t, none)

	missing, err := store.LatestSnapshot(ctx, "NOPE", "2025-12-31")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEarliestFiscalPeriod(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	period, err := store.EarliestFiscalPeriod(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "", period)

	ests := estimates(1, 2, 3)
	ests[0], ests[2] = ests[2], ests[0]
	_, err = store.SaveSnapshot(ctx, "AAPL", ests, day("2025-06-01"), 4)
	require.NoError(t, err)

	period, err = store.EarliestFiscalPeriod(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-31", period)
}

func TestListTickersAndDates(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	_, err := store.SaveSnapshot(ctx, "MSFT", estimates(1), day("2025-06-01"), 4)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "AAPL", estimates(1), day("2025-06-02"), 4)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "AAPL", estimates(1), day("2025-06-01"), 4)
	require.NoError(t, err)

	tickers, err := store.ListTickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, tickers)

	dates, err := store.SnapshotDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day("2025-06-02"), day("2025-06-01")}, dates)

	backend, location := store.Describe()
	assert.Equal(t, "sqlite", backend)
	assert.Contains(t, location, "estimates_history.db")
}

func TestSaveSnapshot_ConcurrentWriters(t *testing.T) {
	store := newUnitTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.SaveSnapshot(ctx, fmt.Sprintf("T%02d", i), estimates(1, 2, 3, 4), day("2025-06-01"), 4)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := store.SnapshotsOn(ctx, day("2025-06-01"))
	require.NoError(t, err)
	assert.Len(t, rows, 80)
}
