// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on ordering, copy isolation, and injected failures

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_AgentOrdering(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, testAgent("a", "A")))
	require.NoError(t, store.CreateAgent(ctx, testAgent("b", "B")))
	require.NoError(t, store.CreateAgent(ctx, testAgent("c", "C")))

	require.NoError(t, store.DeleteAgent(ctx, "a"))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "b", agents[0].ID)
	assert.Equal(t, 0, agents[0].Order)
	assert.Equal(t, "c", agents[1].ID)
	assert.Equal(t, 1, agents[1].Order)
}

func TestMockStore_ReorderUnknownLeavesOrder(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, testAgent("a", "A")))

	err := store.ReorderAgents(ctx, []AgentOrder{{ID: "a", Order: 5}, {ID: "ghost", Order: 0}})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Order)
}

func TestMockStore_ReorderSparseRenumbers(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateAgent(ctx, testAgent(id, id)))
	}

	require.NoError(t, store.ReorderAgents(ctx, []AgentOrder{{ID: "a", Order: 7}, {ID: "b", Order: 0}}))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	for i, want := range []string{"b", "c", "a"} {
		assert.Equal(t, want, agents[i].ID)
		assert.Equal(t, i, agents[i].Order)
	}
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, testAgent("a", "A")))

	got, err := store.GetAgent(ctx, "a")
	require.NoError(t, err)
	got.Tasks[0] = "mutated"

	again, err := store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Find sources", again.Tasks[0])
}

func TestMockStore_UpdateExecutionErr(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateExecution(ctx, &Execution{ID: "e", Status: StatusRunning}))
	store.SetUpdateExecutionErr(errors.New("disk full"))

	result := "x"
	err := store.UpdateExecution(ctx, "e", StatusCompleted, &result)
	assert.EqualError(t, err, "disk full")

	got, err := store.GetExecution(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestMockStore_FailStuckExecutions(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "old", Status: StatusRunning, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.CreateExecution(ctx, &Execution{
		ID: "new", Status: StatusRunning, CreatedAt: now.Add(time.Minute),
	}))

	ids, err := store.FailStuckExecutions(ctx, now, "swept")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	ids, err = store.FailStuckExecutions(ctx, now, "swept")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
