// Package store provides persistent storage for agents and executions using SQLite.
//
// # Architecture
//
// Two interfaces describe the persistence contract:
//
//   - AgentStore: CRUD plus dense ordering for agent definitions
//   - ExecutionStore: execution records and the stuck-execution sweep query
//
// Store combines both with Ping and Close. SQLiteStore implements Store on
// modernc.org/sqlite; MockStore is an in-memory implementation for tests.
//
// # Data Models
//
//   - Agent: name, role, goal, backstory, an ordered task list and a display position
//   - Execution: one run of an agent, with status running, completed or failed
//
// # Ordering
//
// Agent positions form a contiguous sequence starting at zero. CreateAgent appends
// at the end, DeleteAgent closes the gap it leaves, and ReorderAgents rewrites
// positions inside a single transaction.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text so lexical comparison matches
// chronological order. The sweep query relies on this.
//
// # Error Handling
//
// ErrNotFound is returned when a lookup, update or delete targets a missing row.
// Other errors are wrapped with context:
//
//	agent, err := s.GetAgent(ctx, id)
//	if errors.Is(err, store.ErrNotFound) {
//	    // 404
//	}
package store
