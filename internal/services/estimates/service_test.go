package estimates

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/interfaces"
	"github.com/bobmcallan/revisor/internal/models"
	tcommon "github.com/bobmcallan/revisor/tests/common"
)

var testToday = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, client interfaces.FMPClient) (*Service, interfaces.StorageManager) {
	t.Helper()
	cfg := tcommon.NewTestConfig(t)
	sm := tcommon.NewTestStorage(t, cfg)
	svc := NewService(sm, client, cfg, common.NewSilentLogger())
	svc.SetClock(func() time.Time { return testToday.Add(15 * time.Hour) })
	return svc, sm
}

func daysAgo(n int) time.Time {
	return testToday.AddDate(0, 0, -n)
}

func est(period string, eps, revenue float64) models.AnalystEstimate {
	return models.AnalystEstimate{
		Date:           period,
		EPSAvg:         tcommon.Ptr(eps),
		RevenueAvg:     tcommon.Ptr(revenue),
		NumAnalystsEPS: tcommon.Ptr(12),
	}
}

func save(t *testing.T, sm interfaces.StorageManager, ticker string, date time.Time, ests ...models.AnalystEstimate) {
	t.Helper()
	_, err := sm.SnapshotStore().SaveSnapshot(context.Background(), ticker, ests, date, 4)
	require.NoError(t, err)
}

func TestCapture_SavesAndSkips(t *testing.T) {
	client := tcommon.NewMockFMPClient()
	client.Estimates["AAPL"] = []models.AnalystEstimate{
		est("2025-09-30", 1.5, 90e9), est("2025-12-31", 2.1, 120e9),
		est("2026-03-31", 1.6, 95e9), est("2026-06-30", 1.5, 92e9),
		est("2026-09-30", 1.7, 99e9),
	}
	client.Estimates["MSFT"] = []models.AnalystEstimate{est("2025-09-30", 3.2, 70e9)}
	client.Errors["BAD"] = errors.New("boom")

	svc, sm := newTestService(t, client)
	entries := []models.UniverseEntry{{Ticker: "AAPL"}, {Ticker: "MSFT"}, {Ticker: "NODATA"}, {Ticker: "BAD"}}

	result, err := svc.Capture(context.Background(), "master", entries)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 5, result.Rows, "AAPL keeps its first four periods")
	assert.Equal(t, testToday, result.SnapshotDate)

	rows, err := sm.SnapshotStore().SnapshotsOn(context.Background(), testToday)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestCapture_LowercaseTickerRoundTrips(t *testing.T) {
	client := tcommon.NewMockFMPClient()
	client.Estimates["AZN.L"] = []models.AnalystEstimate{est("2025-09-30", 2.2, 110)}

	svc, sm := newTestService(t, client)
	ctx := context.Background()
	save(t, sm, "azn.l", daysAgo(40), est("2025-09-30", 2.0, 100))

	result, err := svc.Capture(ctx, "master", []models.UniverseEntry{{Ticker: "azn.l"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)

	history, err := sm.SnapshotStore().TickerHistory(ctx, "AZN.L")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	rev, err := svc.GetRevision(ctx, "azn.l", "2025-09-30", 30)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, "AZN.L", rev.Ticker)
	assert.InDelta(t, 10.0, *rev.EPSRevisionPct, 0.0001)

	summary, err := svc.GetRevisionsSummary(ctx, "azn.l", []int{30})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.NotNil(t, summary.Window(30))
}

func TestCapture_RequiresClient(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Capture(context.Background(), "master", []models.UniverseEntry{{Ticker: "AAPL"}})
	assert.ErrorIs(t, err, ErrNoClient)
}

type failingSnapshotStore struct {
	interfaces.SnapshotStore
}

func (failingSnapshotStore) SaveSnapshot(context.Context, string, []models.AnalystEstimate, time.Time, int) (int, error) {
	return 0, errors.New("disk full")
}

type storageWithSnapshots struct {
	interfaces.StorageManager
	snapshots interfaces.SnapshotStore
}

func (s storageWithSnapshots) SnapshotStore() interfaces.SnapshotStore { return s.snapshots }

func TestCapture_StoreErrorAborts(t *testing.T) {
	client := tcommon.NewMockFMPClient()
	client.Estimates["AAPL"] = []models.AnalystEstimate{est("2025-09-30", 1.5, 90e9)}

	svc, sm := newTestService(t, client)
	svc.storage = storageWithSnapshots{StorageManager: sm, snapshots: failingSnapshotStore{sm.SnapshotStore()}}

	_, err := svc.Capture(context.Background(), "master", []models.UniverseEntry{{Ticker: "AAPL"}})
	assert.ErrorContains(t, err, "disk full")
}

func TestGetRevision(t *testing.T) {
	svc, sm := newTestService(t, nil)
	ctx := context.Background()

	save(t, sm, "NVDA", daysAgo(40), est("2025-09-30", 2.0, 100))
	save(t, sm, "NVDA", daysAgo(10), est("2025-09-30", 2.1, 0))
	save(t, sm, "NVDA", testToday, est("2025-09-30", 2.2, 110))

	rev, err := svc.GetRevision(ctx, "nvda", "2025-09-30", 30)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, daysAgo(40), rev.PastDate)
	assert.Equal(t, testToday, rev.CurrentDate)
	assert.Equal(t, 40, rev.DaysCompared, "reports elapsed days between snapshots, not the requested window")
	require.NotNil(t, rev.EPSRevisionPct)
	assert.InDelta(t, 10.0, *rev.EPSRevisionPct, 1e-9)
	require.NotNil(t, rev.RevenueRevisionPct)
	assert.InDelta(t, 10.0, *rev.RevenueRevisionPct, 1e-9)

	// The 7-day lookback lands on the snapshot with zero revenue.
	rev, err = svc.GetRevision(ctx, "NVDA", "2025-09-30", 7)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, 10, rev.DaysCompared)
	assert.Nil(t, rev.RevenueRevisionPct, "zero denominator yields nil")
	assert.NotNil(t, rev.EPSRevisionPct)

	rev, err = svc.GetRevision(ctx, "NVDA", "2025-09-30", 90)
	require.NoError(t, err)
	assert.Nil(t, rev, "no snapshot old enough")

	rev, err = svc.GetRevision(ctx, "NONE", "2025-09-30", 7)
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestGetRevision_NegativeBase(t *testing.T) {
	svc, sm := newTestService(t, nil)
	save(t, sm, "LOSS", daysAgo(30), est("2025-09-30", -2.0, 100))
	save(t, sm, "LOSS", testToday, est("2025-09-30", -1.0, 100))

	rev, err := svc.GetRevision(context.Background(), "LOSS", "2025-09-30", 30)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.InDelta(t, 50.0, *rev.EPSRevisionPct, 1e-9, "loss narrowing is an upward revision")
}

func TestGetRevisionsSummary(t *testing.T) {
	svc, sm := newTestService(t, nil)
	ctx := context.Background()

	save(t, sm, "AAPL", daysAgo(35), est("2025-09-30", 1.0, 100), est("2025-12-31", 2.0, 200))
	save(t, sm, "AAPL", testToday, est("2025-09-30", 1.1, 100), est("2025-12-31", 2.4, 200))

	summary, err := svc.GetRevisionsSummary(ctx, "AAPL", []int{7, 30, 60})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "2025-09-30", summary.FiscalPeriod, "anchors on the earliest fiscal period")
	require.Len(t, summary.Windows, 3)

	flat := summary.Flat()
	assert.Len(t, flat, 6)
	require.NotNil(t, flat["eps_rev_7d"])
	assert.InDelta(t, 10.0, *flat["eps_rev_7d"], 1e-9)
	assert.InDelta(t, 0.0, *flat["rev_rev_30d"], 1e-9)
	assert.Nil(t, flat["eps_rev_60d"])
	assert.Nil(t, flat["rev_rev_60d"])

	none, err := svc.GetRevisionsSummary(ctx, "MISSING", nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStatus(t *testing.T) {
	svc, sm := newTestService(t, nil)
	ctx := context.Background()

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", status.Backend)
	assert.Equal(t, 0, status.TickersTracked)
	assert.True(t, status.Stale)

	save(t, sm, "AAPL", daysAgo(5), est("2025-09-30", 1, 1))
	save(t, sm, "MSFT", daysAgo(1), est("2025-09-30", 1, 1))

	status, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TickersTracked)
	assert.Equal(t, 2, status.SnapshotDates)
	assert.Equal(t, daysAgo(1), status.LatestDate)
	assert.Equal(t, daysAgo(5), status.OldestDate)
	assert.False(t, status.Stale)
}

func TestEPSHistoryAndChart(t *testing.T) {
	svc, sm := newTestService(t, nil)
	ctx := context.Background()

	for i, d := range []int{20, 10, 0} {
		bump := float64(i) * 0.1
		save(t, sm, "AAPL", daysAgo(d),
			est("2025-12-31", 6.0+bump, 1),
			est("2026-12-31", 7.0+bump, 1),
			est("2027-12-31", 8.0+bump, 1),
			est("2028-12-31", 9.0+bump, 1),
		)
	}

	points, err := svc.EPSHistory(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, daysAgo(20), points[0].SnapshotDate)
	assert.Equal(t, "2025-12-31", points[0].FY1Period)
	assert.Equal(t, "2027-12-31", points[0].FY3Period)
	assert.InDelta(t, 6.2, *points[2].FY1, 1e-9)

	png, err := svc.RenderEPSHistoryChart(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = svc.RenderEPSHistoryChart(ctx, "NONE")
	assert.Error(t, err)
}
