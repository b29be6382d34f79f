package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"supplier_ingest/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestSQLite(t)

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	run := &models.ScrapeRun{
		Supplier:  "demo",
		Scope:     models.ScopeCategory,
		Target:    "https://shop.example.com/c/shoes",
		StartedAt: started,
		Status:    models.RunStatusRunning,
	}
	id, err := store.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	finished := time.Now().UTC().Truncate(time.Second)
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.Total, run.Created, run.Skipped, run.Failed = 5, 3, 1, 1
	require.NoError(t, store.UpdateRun(run))

	got, err := store.GetRun(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Created)
	assert.Equal(t, 1, got.Failed)
	require.NotNil(t, got.FinishedAt)

	missing, err := store.GetRun(id + 100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestSQLite(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := store.CreateRun(&models.ScrapeRun{
			Supplier:  "demo",
			Scope:     models.ScopeSite,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    models.RunStatusRunning,
		})
		require.NoError(t, err)
	}
	_, err := store.CreateRun(&models.ScrapeRun{Supplier: "other", Scope: models.ScopeSite, StartedAt: base, Status: models.RunStatusRunning})
	require.NoError(t, err)

	runs, err := store.ListRuns("demo", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))

	last, err := store.GetLastRunTime("demo")
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(2*time.Minute), last, time.Second)

	none, err := store.GetLastRunTime("nobody")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestRunLogs(t *testing.T) {
	store := newTestSQLite(t)

	id, err := store.CreateRun(&models.ScrapeRun{Supplier: "demo", Scope: models.ScopeListing, StartedAt: time.Now(), Status: models.RunStatusRunning})
	require.NoError(t, err)

	require.NoError(t, store.Log(&id, models.LogLevelInfo, "fetching listing", "demo"))
	require.NoError(t, store.Log(&id, models.LogLevelError, "persist failed", "demo"))
	require.NoError(t, store.Log(nil, models.LogLevelWarn, "unrelated", "demo"))

	logs, err := store.GetRunLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "fetching listing", logs[0].Message)
	assert.Equal(t, models.LogLevelError, logs[1].Level)
	require.NotNil(t, logs[0].RunID)
	assert.Equal(t, id, *logs[0].RunID)

	require.NoError(t, store.UpdateSupplierStats("demo"))
}

func TestSupplierStats(t *testing.T) {
	store := newTestSQLite(t)

	none, err := store.GetSupplierStats("demo")
	require.NoError(t, err)
	assert.Nil(t, none)

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	for i, status := range []models.RunStatus{models.RunStatusCompleted, models.RunStatusFailed} {
		started := base.Add(time.Duration(i) * 10 * time.Minute)
		finished := started.Add(time.Minute)
		run := &models.ScrapeRun{Supplier: "demo", Scope: models.ScopeSite, StartedAt: started, Status: models.RunStatusRunning}
		id, err := store.CreateRun(run)
		require.NoError(t, err)
		run.ID = id
		run.Status = status
		run.FinishedAt = &finished
		run.Created = 4
		require.NoError(t, store.UpdateRun(run))
	}
	require.NoError(t, store.UpdateSupplierStats("demo"))

	stats, err := store.GetSupplierStats("demo")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "demo", stats.Supplier)
	assert.Equal(t, models.RunStatusFailed, stats.LastRunStatus)
	assert.Equal(t, 8, stats.TotalCreated)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.InDelta(t, 60, stats.AvgRunDurationSec, 1)
	require.NotNil(t, stats.LastRunAt)
	assert.True(t, stats.LastRunAt.Equal(base), "last successful run start")
}
