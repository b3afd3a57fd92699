package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/clients/fmp"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
	tcommon "github.com/bobmcallan/revisor/tests/common"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("FMP_API_KEY", "")
	t.Setenv("REVISOR_FMP_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	dir := t.TempDir()
	content := fmt.Sprintf(`
[storage.snapshots]
driver = "sqlite"
path = %q

[storage.internal]
path = %q

[scan]
export_dir = %q

[logging]
level = "disabled"
`, filepath.Join(dir, "estimates_history.db"), filepath.Join(dir, "internal"), filepath.Join(dir, "exports"))

	path := filepath.Join(dir, "revisor.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// seed stores AAA at EPS 1.00 forty days ago and 1.10 today.
func seed(t *testing.T, configPath string) time.Time {
	t.Helper()
	a, err := app.NewApp(configPath)
	require.NoError(t, err)
	defer a.Close()

	today := common.DateOnly(time.Now())
	store := a.Storage.SnapshotStore()
	for _, s := range []struct {
		date time.Time
		eps  float64
	}{{today.AddDate(0, 0, -40), 1.00}, {today, 1.10}} {
		_, err := store.SaveSnapshot(context.Background(), "AAA", []models.AnalystEstimate{
			{Date: "2025-12-31", EPSAvg: tcommon.Ptr(s.eps), NumAnalystsEPS: tcommon.Ptr(10)},
		}, s.date, 5)
		require.NoError(t, err)
	}
	return today
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "revisor ")
	assert.Contains(t, out, "build:")
}

func TestEmptyStore(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "runs", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No scan runs recorded")

	out, err = execute(t, "exports", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No rankings exports")

	out, err = execute(t, "capture", "--status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "# Estimates Tracker Status")
	assert.Contains(t, out, "**Tickers tracked:** 0")

	out, err = execute(t, "trends", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Not enough snapshot history")
}

func TestCommandsNeedingAPIKey(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "scan", "--config", cfg)
	assert.ErrorIs(t, err, fmp.ErrMissingAPIKey)

	_, err = execute(t, "capture", "--config", cfg)
	assert.ErrorIs(t, err, fmp.ErrMissingAPIKey)

	_, err = execute(t, "enrich", "--config", cfg)
	assert.ErrorIs(t, err, fmp.ErrMissingAPIKey)
}

func TestFlagValidation(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "revision", "--config", cfg)
	assert.ErrorContains(t, err, "ticker")

	_, err = execute(t, "compare", "--from", "last-week", "--to", "2025-06-30", "--config", cfg)
	assert.ErrorContains(t, err, "invalid --from")

	_, err = execute(t, "revision", "-t", "AAA", "--days", "7,x", "--config", cfg)
	assert.ErrorContains(t, err, "invalid day count")

	_, err = execute(t, "trends", "--min-days", "0", "--config", cfg)
	assert.Error(t, err)
}

func TestRevisionCompareAndChart(t *testing.T) {
	cfg := writeConfig(t)
	today := seed(t, cfg)
	from := today.AddDate(0, 0, -40).Format(models.SnapshotDateFormat)
	to := today.Format(models.SnapshotDateFormat)

	out, err := execute(t, "revision", "-t", "aaa", "--days", "30", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "# Estimate Revisions: AAA (2025-12-31)")
	assert.Contains(t, out, "+10.00%")

	out, err = execute(t, "compare", "--from", from, "--to", to, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "| AAA | 2025-12-31 | 1.00 | 1.10 |")

	png := filepath.Join(t.TempDir(), "charts", "aaa.png")
	out, err = execute(t, "chart", "-t", "AAA", "-o", png, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, png)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	out, err = execute(t, "trends", "--min-days", "30", "--all", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "| AAA |")
}

func TestSetKey(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "set-key", "--value", "stored-key", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "FMP API key stored")

	a, err := app.NewApp(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.HasFMP())
}
