// ABOUTME: Tests for SQLite store setup and run ledger persistence
// ABOUTME: Covers schema creation, entry/run atomic saves, step history and run listing

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Schema and migrations must be idempotent
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func testRun(id string, at time.Time) *RunRecord {
	return &RunRecord{
		RunID:         id,
		TenantID:      "tenant-a",
		AgentID:       "agent-1",
		Status:        RunPending,
		SubagentState: SubagentIdle,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestSaveCommandAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := testRun("run-1", now)
	run.Status = RunRunning
	run.SubagentState = SubagentRunning

	cmd := &Command{
		ID:        "cmd-1",
		TenantID:  "tenant-a",
		AgentID:   "agent-1",
		RunID:     "run-1",
		CreatedAt: now,
		Type:      CommandStartTask,
		Payload:   map[string]any{"source": "test"},
	}
	require.NoError(t, store.SaveCommand(ctx, cmd, run))

	later := now.Add(time.Second)
	run.Status = RunFailed
	run.SubagentState = SubagentError
	run.LastError = "boom"
	run.UpdatedAt = later
	evt := &Event{
		ID:        "evt-1",
		TenantID:  "tenant-a",
		AgentID:   "agent-1",
		RunID:     "run-1",
		CreatedAt: later,
		Type:      EventErrorCompacted,
		Message:   "boom",
	}
	require.NoError(t, store.SaveEvent(ctx, evt, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, SubagentError, got.SubagentState)
	assert.Equal(t, "boom", got.LastError)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.UpdatedAt.Equal(later))

	require.Len(t, got.Steps, 2)
	assert.Equal(t, StepCommand, got.Steps[0].Kind)
	assert.Equal(t, "start_task", got.Steps[0].Name)
	assert.Equal(t, "test", got.Steps[0].Payload["source"])
	assert.Equal(t, StepEvent, got.Steps[1].Kind)
	assert.Equal(t, "error_compacted", got.Steps[1].Name)
	assert.Nil(t, got.Steps[1].Payload)
}

func TestSaveCommand_DuplicateEntryRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cmd := &Command{ID: "cmd-1", TenantID: "tenant-a", AgentID: "agent-1", RunID: "run-1", CreatedAt: now, Type: CommandStartTask}
	run := testRun("run-1", now)
	require.NoError(t, store.SaveCommand(ctx, cmd, run))

	run.Status = RunCancelled
	err := store.SaveCommand(ctx, cmd, run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunPending, got.Status, "failed save must not change the run")
	assert.Len(t, got.Steps, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		at := base.Add(time.Duration(i) * time.Second)
		run := testRun(id, at)
		if id == "run-b" {
			run.AgentID = "agent-2"
		}
		cmd := &Command{ID: "cmd-" + id, TenantID: run.TenantID, AgentID: run.AgentID, RunID: id, CreatedAt: at, Type: CommandStartTask}
		require.NoError(t, store.SaveCommand(ctx, cmd, run))
	}

	t.Run("all oldest first", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "run-a", runs[0].RunID)
		assert.Equal(t, "run-c", runs[2].RunID)
	})

	t.Run("limit keeps newest", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-b", runs[0].RunID)
		assert.Equal(t, "run-c", runs[1].RunID)
	})

	t.Run("agent filter", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, RunFilter{AgentID: "agent-2"})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "run-b", runs[0].RunID)
		assert.Len(t, runs[0].Steps, 1)
	})

	t.Run("tenant filter", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, RunFilter{TenantID: "other"})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestLatestRunForAgent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	older := testRun("run-old", base)
	older.Status = RunPaused
	require.NoError(t, store.SaveCommand(ctx, &Command{ID: "c1", TenantID: "tenant-a", AgentID: "agent-1", RunID: "run-old", CreatedAt: base, Type: CommandPause}, older))

	newer := testRun("run-new", base.Add(time.Minute))
	newer.Status = RunCompleted
	require.NoError(t, store.SaveCommand(ctx, &Command{ID: "c2", TenantID: "tenant-a", AgentID: "agent-1", RunID: "run-new", CreatedAt: base, Type: CommandEvaluateResult}, newer))

	got, err := store.LatestRunForAgent(ctx, "agent-1", RunRunning, RunPaused, RunPending)
	require.NoError(t, err)
	assert.Equal(t, "run-old", got.RunID)

	got, err = store.LatestRunForAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "run-new", got.RunID)

	_, err = store.LatestRunForAgent(ctx, "agent-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTimestampsSortLexically(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 100, time.UTC)
	b := time.Date(2026, 1, 2, 3, 4, 5, 20000, time.UTC)
	assert.Less(t, formatTime(a), formatTime(b))

	parsed, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(b))
}
