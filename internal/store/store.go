// ABOUTME: Store interfaces and data types for crewdeck persistence
// ABOUTME: Defines Agent and Execution records plus the AgentStore/ExecutionStore contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Execution status values. A record starts running and moves to exactly one
// of the terminal states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Agent is a named prompt configuration whose tasks are executed together.
type Agent struct {
	ID        string
	Name      string
	Role      string
	Goal      string
	Backstory string
	Tasks     []string
	Order     int // dense, zero-based display position
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentUpdate carries the mutable fields of an agent. Nil fields are left unchanged.
type AgentUpdate struct {
	Name      *string
	Role      *string
	Goal      *string
	Backstory *string
	Tasks     []string // nil means unchanged
}

// AgentOrder assigns a display position to an agent.
type AgentOrder struct {
	ID    string
	Order int
}

// Execution is one attempt to run an agent's tasks through the model.
type Execution struct {
	ID        string
	AgentID   string
	AgentName string // copied from the agent when the execution started
	Status    string
	Result    *string // nil while running
	CreatedAt time.Time
}

// IsTerminal reports whether the execution has left the running state.
func (e *Execution) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// AgentStore persists agent definitions and their ordering.
type AgentStore interface {
	// ListAgents returns all agents sorted by Order ascending.
	ListAgents(ctx context.Context) ([]*Agent, error)

	GetAgent(ctx context.Context, id string) (*Agent, error)

	// CreateAgent stores a new agent. Order is set to the current agent count.
	CreateAgent(ctx context.Context, agent *Agent) error

	// UpdateAgent changes fields only; Order is never touched.
	// Returns ErrNotFound if the agent does not exist.
	UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Agent, error)

	DeleteAgent(ctx context.Context, id string) error

	// ReorderAgents applies all positions in one transaction, then renumbers
	// every agent densely by (position, created_at). Agents left out of
	// orders keep their relative place.
	// If any id is unknown nothing is changed and ErrNotFound is returned.
	ReorderAgents(ctx context.Context, orders []AgentOrder) error
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns executions newest first. A limit <= 0 returns all.
	ListExecutions(ctx context.Context, limit int) ([]*Execution, error)

	// UpdateExecution sets status and result unconditionally.
	UpdateExecution(ctx context.Context, id, status string, result *string) error

	// FailStuckExecutions marks every running execution created before cutoff
	// as failed with the given message and returns the affected ids.
	FailStuckExecutions(ctx context.Context, cutoff time.Time, message string) ([]string, error)
}

// Store combines agent and execution persistence.
type Store interface {
	AgentStore
	ExecutionStore

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
