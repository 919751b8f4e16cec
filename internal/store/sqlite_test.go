// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers agent CRUD and ordering, execution persistence, and the stuck-execution sweep

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
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

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.CreateAgent(ctx, testAgent("agent-1", "Researcher")))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Researcher", got.Name)
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestCreateAndGetAgent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	agent := testAgent("agent-1", "Researcher")

	require.NoError(t, store.CreateAgent(ctx, agent))

	got, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)

	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, agent.Name, got.Name)
	assert.Equal(t, agent.Role, got.Role)
	assert.Equal(t, agent.Goal, got.Goal)
	assert.Equal(t, agent.Backstory, got.Backstory)
	assert.Equal(t, []string{"Find sources", "Summarize findings"}, got.Tasks)
	assert.Equal(t, 0, got.Order)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetAgent_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAgent_AppendsOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		a := testAgent(fmt.Sprintf("agent-%d", i), fmt.Sprintf("Agent %d", i))
		require.NoError(t, store.CreateAgent(ctx, a))
		assert.Equal(t, i, a.Order)
	}

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	for i, a := range agents {
		assert.Equal(t, i, a.Order)
		assert.Equal(t, fmt.Sprintf("agent-%d", i), a.ID)
	}
}

func TestListAgents_Empty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	agents, err := store.ListAgents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, agents)
	assert.Empty(t, agents)
}

func TestUpdateAgent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateAgent(ctx, testAgent("agent-0", "First")))
	require.NoError(t, store.CreateAgent(ctx, testAgent("agent-1", "Second")))

	newName := "Renamed"
	got, err := store.UpdateAgent(ctx, "agent-1", AgentUpdate{
		Name:  &newName,
		Tasks: []string{"Only task"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "Analyst", got.Role, "role should be unchanged")
	assert.Equal(t, []string{"Only task"}, got.Tasks)
	assert.Equal(t, 1, got.Order, "update must not change order")
}

func TestUpdateAgent_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	name := "x"
	_, err := store.UpdateAgent(context.Background(), "missing", AgentUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAgent_CompactsOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateAgent(ctx, testAgent(fmt.Sprintf("agent-%d", i), "A")))
	}

	require.NoError(t, store.DeleteAgent(ctx, "agent-1"))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "agent-0", agents[0].ID)
	assert.Equal(t, 0, agents[0].Order)
	assert.Equal(t, "agent-2", agents[1].ID)
	assert.Equal(t, 1, agents[1].Order)

	// A new agent lands at the end of the compacted sequence
	next := testAgent("agent-3", "A")
	require.NoError(t, store.CreateAgent(ctx, next))
	assert.Equal(t, 2, next.Order)
}

func TestDeleteAgent_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.DeleteAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReorderAgents(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateAgent(ctx, testAgent(fmt.Sprintf("agent-%d", i), "A")))
	}

	err := store.ReorderAgents(ctx, []AgentOrder{
		{ID: "agent-2", Order: 0},
		{ID: "agent-0", Order: 1},
		{ID: "agent-1", Order: 2},
	})
	require.NoError(t, err)

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	ids := []string{agents[0].ID, agents[1].ID, agents[2].ID}
	assert.Equal(t, []string{"agent-2", "agent-0", "agent-1"}, ids)
}

func TestReorderAgents_SparseRequestRenumbers(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateAgent(ctx, testAgent(id, id)))
	}

	require.NoError(t, store.ReorderAgents(ctx, []AgentOrder{
		{ID: "a", Order: 7},
		{ID: "b", Order: 0},
	}))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	for i, want := range []string{"b", "c", "a"} {
		assert.Equal(t, want, agents[i].ID)
		assert.Equal(t, i, agents[i].Order)
	}
}

func TestReorderAgents_DuplicatePositionsRenumber(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateAgent(ctx, testAgent(id, id)))
	}

	require.NoError(t, store.ReorderAgents(ctx, []AgentOrder{
		{ID: "c", Order: 0},
		{ID: "a", Order: 0},
	}))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	positions := map[string]int{}
	for _, a := range agents {
		positions[a.ID] = a.Order
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, []int{positions["a"], positions["b"], positions["c"]})
	assert.Equal(t, 2, positions["b"])
}

func TestReorderAgents_UnknownIDRollsBack(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateAgent(ctx, testAgent("agent-0", "A")))
	require.NoError(t, store.CreateAgent(ctx, testAgent("agent-1", "B")))

	err := store.ReorderAgents(ctx, []AgentOrder{
		{ID: "agent-1", Order: 0},
		{ID: "ghost", Order: 1},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Order, "partial reorder must be rolled back")
}

func TestCreateAndGetExecution(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	exec := &Execution{
		ID:        "exec-1",
		AgentID:   "agent-1",
		AgentName: "Researcher",
		Status:    StatusRunning,
	}
	require.NoError(t, store.CreateExecution(ctx, exec))
	assert.False(t, exec.CreatedAt.IsZero(), "CreatedAt should be filled in")

	got, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "Researcher", got.AgentName)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.Result)
	assert.WithinDuration(t, exec.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestGetExecution_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetExecution(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateExecution(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "exec-1", AgentID: "a", AgentName: "A", Status: StatusRunning,
	}))

	result := "all tasks done"
	require.NoError(t, store.UpdateExecution(ctx, "exec-1", StatusCompleted, &result))

	got, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "all tasks done", *got.Result)
	assert.True(t, got.IsTerminal())
}

func TestUpdateExecution_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	result := "x"
	err := store.UpdateExecution(context.Background(), "missing", StatusFailed, &result)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListExecutions_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateExecution(ctx, &Execution{
			ID:        fmt.Sprintf("exec-%d", i),
			AgentID:   "a",
			AgentName: "A",
			Status:    StatusRunning,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "exec-4", all[0].ID)
	assert.Equal(t, "exec-0", all[4].ID)

	limited, err := store.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "exec-4", limited[0].ID)
	assert.Equal(t, "exec-3", limited[1].ID)
}

func TestFailStuckExecutions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	done := "done"

	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "old-running", AgentID: "a", AgentName: "A", Status: StatusRunning,
		CreatedAt: now.Add(-15 * time.Minute),
	}))
	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "recent-running", AgentID: "a", AgentName: "A", Status: StatusRunning,
		CreatedAt: now.Add(-5 * time.Minute),
	}))
	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "old-completed", AgentID: "a", AgentName: "A", Status: StatusCompleted,
		Result: &done, CreatedAt: now.Add(-30 * time.Minute),
	}))

	ids, err := store.FailStuckExecutions(ctx, now.Add(-10*time.Minute), "cleaned up")
	require.NoError(t, err)
	assert.Equal(t, []string{"old-running"}, ids)

	old, err := store.GetExecution(ctx, "old-running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, old.Status)
	require.NotNil(t, old.Result)
	assert.Equal(t, "cleaned up", *old.Result)

	recent, err := store.GetExecution(ctx, "recent-running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, recent.Status)
	assert.Nil(t, recent.Result)

	completed, err := store.GetExecution(ctx, "old-completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "done", *completed.Result)

	// Second pass finds nothing new
	ids, err = store.FailStuckExecutions(ctx, now.Add(-10*time.Minute), "cleaned up")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testAgent(id, name string) *Agent {
	return &Agent{
		ID:        id,
		Name:      name,
		Role:      "Analyst",
		Goal:      "Produce a short report",
		Backstory: "Ten years in market research.",
		Tasks:     []string{"Find sources", "Summarize findings"},
	}
}

// newTestStore creates a new SQLiteStore for testing using a temp directory
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
