package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
	tcommon "github.com/bobmcallan/revisor/tests/common"
)

func clearKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FMP_API_KEY", "")
	t.Setenv("REVISOR_FMP_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
}

func writeTestConfig(t *testing.T, apiKey string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
[storage.snapshots]
driver = "sqlite"
path = %q

[storage.internal]
path = %q

[clients.fmp]
api_key = %q

[scan]
export_dir = %q

[logging]
level = "disabled"
`, filepath.Join(dir, "estimates_history.db"), filepath.Join(dir, "internal"), apiKey, filepath.Join(dir, "exports"))

	path := filepath.Join(dir, "revisor.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewApp_FromConfigFile(t *testing.T) {
	clearKeyEnv(t)

	a, err := NewApp(writeTestConfig(t, "from-file"))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Config)
	assert.NotNil(t, a.Logger)
	assert.NotNil(t, a.Storage)
	assert.True(t, a.HasFMP())
	assert.NotNil(t, a.EstimatesService)
	assert.NotNil(t, a.UniverseService)
	assert.NotNil(t, a.RankingService)
	assert.NotNil(t, a.ReportService)
	assert.NotNil(t, a.JobManager)
	assert.False(t, a.StartupTime.IsZero())
	assert.NoError(t, a.RequireFMP())
}

func TestNewAppWithConfig_WithoutKey(t *testing.T) {
	clearKeyEnv(t)
	cfg := tcommon.NewTestConfig(t)

	a, err := NewAppWithConfig(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.HasFMP())
	assert.ErrorIs(t, a.RequireFMP(), fmp.ErrMissingAPIKey)
	assert.NoError(t, a.StartScheduler(), "capture is disabled by default")

	cfg.Capture.Enabled = true
	assert.ErrorIs(t, a.StartScheduler(), fmp.ErrMissingAPIKey)
}

func TestSetAPIKey_PersistsAcrossRestarts(t *testing.T) {
	clearKeyEnv(t)
	cfg := tcommon.NewTestConfig(t)
	ctx := context.Background()

	a, err := NewAppWithConfig(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, a.SetAPIKey(ctx, ""), fmp.ErrMissingAPIKey)
	require.NoError(t, a.SetAPIKey(ctx, "stored-key"))
	assert.True(t, a.HasFMP())
	a.Close()

	b, err := NewAppWithConfig(cfg, common.NewSilentLogger())
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, b.HasFMP())

	stored, err := b.Storage.InternalStore().GetSystemKV(ctx, FMPKeyName)
	require.NoError(t, err)
	assert.Equal(t, "stored-key", stored)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.toml", ResolveConfigPath("explicit.toml"))

	t.Setenv("REVISOR_CONFIG", "/etc/revisor.toml")
	assert.Equal(t, "/etc/revisor.toml", ResolveConfigPath(""))
}

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) Capture(ctx context.Context, universe string) (*models.CaptureResult, error) {
	r.calls.Add(1)
	return &models.CaptureResult{Universe: universe, Saved: 1, Total: 1}, nil
}

func TestScheduler_RunsCapture(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, common.NewSilentLogger())

	require.Error(t, s.Start("not a schedule", "master"))
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start("* * * * * *", "master"))
	assert.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return runner.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestUseFMPClient_SwapsUnderLiveServices(t *testing.T) {
	clearKeyEnv(t)
	a, err := NewAppWithConfig(tcommon.NewTestConfig(t), common.NewSilentLogger())
	require.NoError(t, err)
	defer a.Close()

	estimates := a.EstimatesService
	_, err = a.fmp.GetAnalystEstimates(context.Background(), "AAA")
	assert.ErrorIs(t, err, fmp.ErrMissingAPIKey)
	_, err = a.Capture(context.Background(), "master")
	assert.ErrorIs(t, err, fmp.ErrMissingAPIKey)

	client := tcommon.NewMockFMPClient()
	client.Estimates["AAA"] = []models.AnalystEstimate{{Date: "2025-12-31", EPSAvg: tcommon.Ptr(1.5)}}
	a.UseFMPClient(client)
	assert.True(t, a.HasFMP())
	assert.Same(t, estimates, a.EstimatesService, "services are not rebuilt")

	got, err := a.fmp.GetAnalystEstimates(context.Background(), "AAA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, client.Calls("AAA"))

	a.UseFMPClient(nil)
	assert.False(t, a.HasFMP())
	assert.ErrorIs(t, a.RequireFMP(), fmp.ErrMissingAPIKey)
}
