package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/revisor/internal/common"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Snapshots.Path = filepath.Join(dir, "estimates_history.db")
	cfg.Storage.Internal.Path = filepath.Join(dir, "internal")
	cfg.Scan.ExportDir = filepath.Join(dir, "exports")
	return cfg
}

func TestNewManager_OpensAllAreas(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewManager(context.Background(), common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	defer m.Close()

	backend, location := m.SnapshotStore().Describe()
	assert.Equal(t, DriverSQLite, backend)
	assert.Equal(t, cfg.Storage.Snapshots.Path, location)
	assert.NotNil(t, m.InternalStore())
	assert.NotNil(t, m.ExportStore())

	require.NoError(t, m.InternalStore().SetSystemKV(context.Background(), "k", "v"))
}

func TestNewSnapshotStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Snapshots.Driver = "mysql"
	_, err := NewSnapshotStore(context.Background(), common.NewSilentLogger(), &cfg.Storage.Snapshots)
	assert.ErrorContains(t, err, "unknown snapshot driver")
}

func TestNewSnapshotStore_DefaultsToSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Snapshots.Driver = ""
	store, err := NewSnapshotStore(context.Background(), common.NewSilentLogger(), &cfg.Storage.Snapshots)
	require.NoError(t, err)
	defer store.Close()

	backend, _ := store.Describe()
	assert.Equal(t, DriverSQLite, backend)
}
