// ABOUTME: In-memory registry of in-flight executions and their cancel functions
// ABOUTME: Backs the advisory concurrency gate, queue status and cancel-by-id

package execution

import (
	"sort"
	"sync"
	"time"
)

type registryEntry struct {
	cancel    func()
	startedAt time.Time
}

// registry is process-local and never persisted; a restart empties it and the
// startup sweep reclaims whatever was running.
type registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]registryEntry)}
}

func (r *registry) add(id string, cancel func(), startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = registryEntry{cancel: cancel, startedAt: startedAt}
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *registry) cancel(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry) snapshot() []QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]QueueEntry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, QueueEntry{ID: id, StartedAt: e.startedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// QueueEntry describes one in-flight execution.
type QueueEntry struct {
	ID        string
	StartedAt time.Time
}

// QueueStatus reports in-flight executions against the configured limit.
type QueueStatus struct {
	Active        int
	MaxConcurrent int
	Queued        int
	Queue         []QueueEntry
}

// CanStart reports whether another execution fits under the concurrency limit.
// The limit is advisory; Start does not consult it.
func (m *Manager) CanStart() bool {
	return m.registry.len() < m.maxConcurrent
}

// Active returns the number of in-flight executions.
func (m *Manager) Active() int {
	return m.registry.len()
}

// MaxConcurrent returns the configured limit.
func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

// Status returns a snapshot of in-flight executions.
func (m *Manager) Status() QueueStatus {
	queue := m.registry.snapshot()
	return QueueStatus{
		Active:        len(queue),
		MaxConcurrent: m.maxConcurrent,
		Queued:        len(queue),
		Queue:         queue,
	}
}

// Cancel aborts an in-flight execution. Its background task records it as
// failed with MessageCancelled.
func (m *Manager) Cancel(id string) error {
	if !m.registry.cancel(id) {
		return ErrExecutionNotFound
	}
	m.logger.Info("execution cancel requested", "execution_id", id)
	return nil
}
