package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
	tcommon "github.com/bobmcallan/revisor/tests/common"
)

type testServer struct {
	app      *app.App
	srv      *Server
	client   *tcommon.MockFMPClient
	universe string
	today    time.Time
}

// newTestServer builds a real app on temp storage. With withClient set, the
// mock FMP client serves AAA and BBB.
func newTestServer(t *testing.T, withClient bool) *testServer {
	t.Helper()
	t.Setenv("FMP_API_KEY", "")
	t.Setenv("REVISOR_FMP_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	cfg := tcommon.NewTestConfig(t)
	a, err := app.NewAppWithConfig(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	path := filepath.Join(t.TempDir(), "universe.csv")
	require.NoError(t, os.WriteFile(path, []byte("Ticker,Sector\nAAA,Technology\nBBB,Energy\n"), 0o644))

	client := tcommon.NewMockFMPClient()
	for _, ticker := range []string{"AAA", "BBB"} {
		client.Estimates[ticker] = []models.AnalystEstimate{
			{Date: "2025-12-31", EPSAvg: tcommon.Ptr(4.2), NumAnalystsEPS: tcommon.Ptr(9)},
		}
	}
	client.Surprises["AAA"] = []models.EarningsSurprise{
		{Date: time.Now().AddDate(0, -2, 0), Actual: 1.1, Estimated: 1.0},
	}
	if withClient {
		a.UseFMPClient(client)
	}

	return &testServer{
		app:      a,
		srv:      NewServer(a),
		client:   client,
		universe: path,
		today:    common.DateOnly(time.Now()),
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedHistory stores AAA at EPS 1.00 forty days ago and 1.10 today, and BBB today only.
func (ts *testServer) seedHistory(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	store := ts.app.Storage.SnapshotStore()
	est := func(eps float64) []models.AnalystEstimate {
		return []models.AnalystEstimate{{Date: "2025-12-31", EPSAvg: tcommon.Ptr(eps), RevenueAvg: tcommon.Ptr(100.0), NumAnalystsEPS: tcommon.Ptr(10)}}
	}
	_, err := store.SaveSnapshot(ctx, "AAA", est(1.00), ts.today.AddDate(0, 0, -40), 5)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "AAA", est(1.10), ts.today, 5)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "BBB", est(2.00), ts.today, 5)
	require.NoError(t, err)
}

func (ts *testServer) date(daysAgo int) string {
	return ts.today.AddDate(0, 0, -daysAgo).Format(models.SnapshotDateFormat)
}

func TestSystemRoutes(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = ts.do(t, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "version")

	rec = ts.do(t, http.MethodGet, "/api/universes", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "master")

	rec = ts.do(t, http.MethodOptions, "/api/scans", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfig_MasksStoredKey(t *testing.T) {
	ts := newTestServer(t, true)
	require.NoError(t, ts.app.Storage.InternalStore().SetSystemKV(context.Background(), app.FMPKeyName, "abcdef123456"))

	rec := ts.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "abcd****", body["fmp_key_stored"])
	assert.Equal(t, true, body["fmp_configured"])
	assert.Equal(t, "sqlite", body["snapshot_backend"])
	assert.NotContains(t, rec.Body.String(), "abcdef123456")
}

func TestSetAPIKey(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/config/fmp-key", map[string]string{"api_key": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/config/fmp-key", map[string]string{"api_key": "new-key"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, ts.app.HasFMP())

	stored, err := ts.app.Storage.InternalStore().GetSystemKV(context.Background(), app.FMPKeyName)
	require.NoError(t, err)
	assert.Equal(t, "new-key", stored)
}

func TestSetAPIKey_ConcurrentWithReads(t *testing.T) {
	ts := newTestServer(t, false)
	ts.app.StartJobs()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			rec := ts.do(t, http.MethodPost, "/api/config/fmp-key", map[string]string{"api_key": fmt.Sprintf("key-%d", i)})
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
	}()
	for i := 0; i < 50; i++ {
		rec := ts.do(t, http.MethodGet, "/api/capture/last", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = ts.do(t, http.MethodGet, "/api/config", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	wg.Wait()

	assert.True(t, ts.app.HasFMP())
	stored, err := ts.app.Storage.InternalStore().GetSystemKV(context.Background(), app.FMPKeyName)
	require.NoError(t, err)
	assert.Equal(t, "key-4", stored)
}

// Key swaps race with captures, scan submissions and reads. Every scan
// still completes with both tickers because the services keep one client
// holder for the whole run of the process.
func TestUseFMPClient_ConcurrentWithRequests(t *testing.T) {
	ts := newTestServer(t, true)
	ts.app.StartJobs()

	other := tcommon.NewMockFMPClient()
	for ticker, estimates := range ts.client.Estimates {
		other.Estimates[ticker] = estimates
	}
	for ticker, surprises := range ts.client.Surprises {
		other.Surprises[ticker] = surprises
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				ts.app.UseFMPClient(other)
			} else {
				ts.app.UseFMPClient(ts.client)
			}
		}
	}()

	var ids []string
	for i := 0; i < 4; i++ {
		rec := ts.do(t, http.MethodGet, "/api/config", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["fmp_configured"])

		rec = ts.do(t, http.MethodPost, "/api/capture", map[string]string{"universe": ts.universe})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = ts.do(t, http.MethodGet, "/api/capture/last", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/scans", models.ScanOptions{Universe: ts.universe, Sequential: true})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var queued models.ScanRunSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
		ids = append(ids, queued.ID)
	}
	close(done)
	wg.Wait()

	for _, id := range ids {
		var run models.ScanRun
		require.Eventually(t, func() bool {
			rec := ts.do(t, http.MethodGet, "/api/scans/"+id, nil)
			run = models.ScanRun{}
			return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &run) == nil && run.State == models.ScanComplete
		}, 10*time.Second, 20*time.Millisecond)
		require.NotNil(t, run.Result)
		assert.Len(t, run.Result.Rows, 2, "run %s", id)
	}
}

func TestShutdown_ForbiddenInProduction(t *testing.T) {
	ts := newTestServer(t, false)
	ts.app.Config.Environment = "production"
	rec := ts.do(t, http.MethodPost, "/api/shutdown", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.app.Config.Environment = "development"
	ch := make(chan struct{}, 1)
	ts.srv.SetShutdownChannel(ch)
	rec = ts.do(t, http.MethodPost, "/api/shutdown", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not signalled")
	}
}

func TestSnapshotRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedHistory(t)

	rec := ts.do(t, http.MethodGet, "/api/snapshots/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, float64(2), status["tickers_tracked"])
	assert.Equal(t, float64(2), status["snapshot_dates"])
	assert.Equal(t, false, status["stale"])

	rec = ts.do(t, http.MethodGet, "/api/snapshots/status?format=markdown", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "# Estimates Tracker Status")
	assert.Contains(t, rec.Body.String(), "**Tickers tracked:** 2")

	rec = ts.do(t, http.MethodGet, "/api/snapshots/aaa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAA", decode(t, rec)["ticker"])
	assert.Len(t, decode(t, rec)["snapshots"], 2)

	rec = ts.do(t, http.MethodGet, "/api/snapshots/ZZZ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevisionRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedHistory(t)

	rec := ts.do(t, http.MethodGet, "/api/revisions/AAA?days=30,60", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary models.RevisionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "2025-12-31", summary.FiscalPeriod)
	require.Len(t, summary.Windows, 2)
	require.NotNil(t, summary.Windows[0].Result)
	assert.InDelta(t, 10.0, *summary.Windows[0].Result.EPSRevisionPct, 0.01)
	assert.Nil(t, summary.Windows[1].Result, "nothing on or before 60 days ago")

	rec = ts.do(t, http.MethodGet, "/api/revisions/AAA?days=30&period=2025-12-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var single models.RevisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, 40, single.DaysCompared)

	rec = ts.do(t, http.MethodGet, "/api/revisions/AAA?format=markdown", nil)
	assert.Contains(t, rec.Body.String(), "# Estimate Revisions: AAA (2025-12-31)")

	rec = ts.do(t, http.MethodGet, "/api/revisions/AAA?days=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/revisions/ZZZ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/revisions/AAA/bogus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/revisions/AAA/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["points"], 2)
}

func TestRevisionChart(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedHistory(t)

	rec := ts.do(t, http.MethodGet, "/api/revisions/AAA/chart?save=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
	assert.NotEmpty(t, rec.Header().Get("X-Export-Path"))

	rec = ts.do(t, http.MethodGet, "/api/exports?kind=charts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["files"], 1)

	rec = ts.do(t, http.MethodGet, "/api/revisions/BBB/chart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a single snapshot date cannot be charted")
}

func TestRevisionCompareSectorsTrends(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedHistory(t)
	from, to := ts.date(40), ts.date(0)

	rec := ts.do(t, http.MethodGet, "/api/revisions/compare?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cmp struct {
		Rows []models.EstimateComparison `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	require.Len(t, cmp.Rows, 1)
	assert.Equal(t, "AAA", cmp.Rows[0].Ticker)

	rec = ts.do(t, http.MethodGet, "/api/revisions/compare?to="+to, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/revisions/compare?from=yesterday&to="+to, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/revisions/sectors?from="+from+"&to="+to+"&universe="+url.QueryEscape(ts.universe), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sectors struct {
		Sectors []models.SectorRevision `json:"sectors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sectors))
	require.Len(t, sectors.Sectors, 1)
	assert.Equal(t, "Technology", sectors.Sectors[0].Sector)
	assert.Equal(t, 1, sectors.Sectors[0].Positive)

	rec = ts.do(t, http.MethodGet, "/api/revisions/sectors?from="+from+"&to="+to+"&universe=nasdaq", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/revisions/trends?min_days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(30), decode(t, rec)["min_days"])

	rec = ts.do(t, http.MethodGet, "/api/revisions/trends?min_days=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureRoutes(t *testing.T) {
	t.Run("requires client", func(t *testing.T) {
		ts := newTestServer(t, false)
		rec := ts.do(t, http.MethodPost, "/api/capture", map[string]string{"universe": ts.universe})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/api/capture/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/capture", map[string]string{"universe": ts.universe})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.CaptureResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 2, result.Total)

	rec = ts.do(t, http.MethodGet, "/api/capture/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var last models.CaptureRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, ts.universe, last.Universe)
	assert.Equal(t, 2, last.Saved)
	assert.Empty(t, last.Error)

	rec = ts.do(t, http.MethodPost, "/api/capture", map[string]string{"universe": "nasdaq"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanLifecycle(t *testing.T) {
	ts := newTestServer(t, true)
	ts.app.StartJobs()

	rec := ts.do(t, http.MethodGet, "/api/scans/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scans", models.ScanOptions{Universe: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scans", models.ScanOptions{Universe: ts.universe, Sequential: true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued models.ScanRunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.Equal(t, "/api/scans/"+queued.ID, rec.Header().Get("Location"))

	var run models.ScanRun
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/scans/"+queued.ID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		run = models.ScanRun{}
		return json.Unmarshal(rec.Body.Bytes(), &run) == nil && run.State == models.ScanComplete
	}, 10*time.Second, 20*time.Millisecond)
	require.NotNil(t, run.Result)
	require.Len(t, run.Result.Rows, 2)
	assert.Equal(t, "AAA", run.Result.Rows[0].Ticker)

	rec = ts.do(t, http.MethodGet, "/api/scans/latest?format=markdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "| 1 | AAA |")

	rec = ts.do(t, http.MethodGet, "/api/scans?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["runs"], 1)

	rec = ts.do(t, http.MethodGet, "/api/scans/"+queued.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "earnings_revisions_ranked_")

	rec = ts.do(t, http.MethodPost, "/api/scans/"+queued.ID+"/export?name=weekly", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, strings.HasSuffix(decode(t, rec)["path"].(string), "weekly.xlsx"))

	rec = ts.do(t, http.MethodPost, "/api/scans/"+queued.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/scans/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/scans/no-such-run/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanSubmit_RequiresClient(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/api/scans", models.ScanOptions{Universe: ts.universe})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScanEvents_UpgradeThroughMiddleware(t *testing.T) {
	ts := newTestServer(t, true)
	ts.app.StartJobs()

	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/scans/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return ts.app.JobManager.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/api/scans", models.ScanOptions{Universe: ts.universe})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var event models.ScanEvent
		require.NoError(t, json.Unmarshal(data, &event))
		if event.Type == models.ScanEventCompleted {
			require.NotNil(t, event.Run.Stats)
			assert.Equal(t, 2, event.Run.Stats.Scored)
			return
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := applyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), common.NewSilentLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anything", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPathParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/revisions/MSFT/chart", nil)
	assert.Equal(t, "MSFT", PathParam(r, "/api/revisions/", "/chart"))
	assert.Equal(t, "MSFT", PathParam(r, "/api/revisions/", ""))
	assert.Equal(t, "", PathParam(r, "/api/scans/", ""))
}

func TestParseIntList(t *testing.T) {
	days, err := parseIntList(" 7, 30,,90 ")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 30, 90}, days)

	days, err = parseIntList("")
	require.NoError(t, err)
	assert.Nil(t, days)

	_, err = parseIntList("7,-1")
	assert.Error(t, err)
}
