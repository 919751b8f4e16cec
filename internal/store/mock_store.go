// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	agents     map[string]*Agent     // keyed by agent ID
	executions map[string]*Execution // keyed by execution ID

	// UpdateExecutionErr, when set, is returned by UpdateExecution without writing.
	UpdateExecutionErr error
	// PingErr, when set, is returned by Ping.
	PingErr error

	failStuckHook func(ctx context.Context) error
}

// SetFailStuckHook installs fn to run before every FailStuckExecutions call.
// A non-nil error from fn is returned without touching any record.
func (m *MockStore) SetFailStuckHook(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStuckHook = fn
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:     make(map[string]*Agent),
		executions: make(map[string]*Execution),
	}
}

func copyAgent(a *Agent) *Agent {
	c := *a
	c.Tasks = append([]string(nil), a.Tasks...)
	return &c
}

func copyExecution(e *Execution) *Execution {
	c := *e
	if e.Result != nil {
		r := *e.Result
		c.Result = &r
	}
	return &c
}

// SetUpdateExecutionErr makes subsequent UpdateExecution calls fail with err.
func (m *MockStore) SetUpdateExecutionErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateExecutionErr = err
}

// ListAgents returns agents sorted by Order.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, copyAgent(a))
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Order == agents[j].Order {
			return agents[i].CreatedAt.Before(agents[j].CreatedAt)
		}
		return agents[i].Order < agents[j].Order
	})
	return agents, nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// CreateAgent stores a new agent at the end of the ordering.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	agent.UpdatedAt = agent.CreatedAt
	agent.Order = len(m.agents)
	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// UpdateAgent applies the non-nil fields of update.
func (m *MockStore) UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Role != nil {
		a.Role = *update.Role
	}
	if update.Goal != nil {
		a.Goal = *update.Goal
	}
	if update.Backstory != nil {
		a.Backstory = *update.Backstory
	}
	if update.Tasks != nil {
		a.Tasks = append([]string(nil), update.Tasks...)
	}
	a.UpdatedAt = time.Now().UTC()
	return copyAgent(a), nil
}

// DeleteAgent removes an agent and shifts later positions down.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	for _, other := range m.agents {
		if other.Order > a.Order {
			other.Order--
		}
	}
	return nil
}

// ReorderAgents applies all positions or none.
func (m *MockStore) ReorderAgents(ctx context.Context, orders []AgentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range orders {
		if _, ok := m.agents[o.ID]; !ok {
			return fmt.Errorf("agent %s: %w", o.ID, ErrNotFound)
		}
	}
	for _, o := range orders {
		m.agents[o.ID].Order = o.Order
	}

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Order != agents[j].Order {
			return agents[i].Order < agents[j].Order
		}
		if !agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].CreatedAt.Before(agents[j].CreatedAt)
		}
		return agents[i].ID < agents[j].ID
	})
	for i, a := range agents {
		a.Order = i
	}
	return nil
}

// CreateExecution stores a new execution.
func (m *MockStore) CreateExecution(ctx context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	m.executions[exec.ID] = copyExecution(exec)
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *MockStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(e), nil
}

// ListExecutions returns executions newest first.
func (m *MockStore) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execs := make([]*Execution, 0, len(m.executions))
	for _, e := range m.executions {
		execs = append(execs, copyExecution(e))
	}
	sort.Slice(execs, func(i, j int) bool {
		if execs[i].CreatedAt.Equal(execs[j].CreatedAt) {
			return execs[i].ID > execs[j].ID
		}
		return execs[i].CreatedAt.After(execs[j].CreatedAt)
	})
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// UpdateExecution overwrites status and result.
func (m *MockStore) UpdateExecution(ctx context.Context, id, status string, result *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateExecutionErr != nil {
		return m.UpdateExecutionErr
	}
	e, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	if result != nil {
		r := *result
		e.Result = &r
	} else {
		e.Result = nil
	}
	return nil
}

// FailStuckExecutions fails running executions created before cutoff.
func (m *MockStore) FailStuckExecutions(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	m.mu.RLock()
	hook := m.failStuckHook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0)
	for id, e := range m.executions {
		if e.Status == StatusRunning && e.CreatedAt.Before(cutoff) {
			msg := message
			e.Status = StatusFailed
			e.Result = &msg
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
