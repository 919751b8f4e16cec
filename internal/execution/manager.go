// ABOUTME: Execution lifecycle manager: creates running records and drives them to a terminal state
// ABOUTME: Each execution races the model invocation against a timeout in a detached goroutine

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/crewdeck/crewdeck-gateway/internal/llm"
	"github.com/crewdeck/crewdeck-gateway/internal/store"
	"github.com/crewdeck/crewdeck-gateway/internal/telemetry"
)

// ErrNoValidTasks is returned when an agent has no non-empty tasks.
var ErrNoValidTasks = errors.New("agent has no valid tasks to execute")

// ErrExecutionNotFound is returned when cancelling an execution that is not in flight.
var ErrExecutionNotFound = errors.New("execution not found or already completed")

// Failure messages recorded on executions.
const (
	MessageFailed    = "Execution failed"
	MessageCancelled = "Execution cancelled"
)

// terminalWriteTimeout bounds the single status write after an execution settles.
const terminalWriteTimeout = 10 * time.Second

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Timeout        time.Duration
	MaxConcurrent  int
	MaxResultChars int
	Logger         *slog.Logger
	Telemetry      *telemetry.Provider
}

// Manager owns the status and result of every execution it starts.
type Manager struct {
	store   store.ExecutionStore
	invoker llm.Invoker
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics

	timeout        time.Duration
	maxConcurrent  int
	maxResultChars int

	registry *registry
	wg       sync.WaitGroup

	// Overridable for tests
	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager that persists through s and calls inv.
func NewManager(s store.ExecutionStore, inv llm.Invoker, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	maxResult := opts.MaxResultChars
	if maxResult <= 0 {
		maxResult = DefaultMaxResultChars
	}

	return &Manager{
		store:          s,
		invoker:        inv,
		logger:         logger.With("component", "execution"),
		tracer:         tel.Tracer,
		metrics:        tel.Metrics,
		timeout:        timeout,
		maxConcurrent:  maxConcurrent,
		maxResultChars: maxResult,
		registry:       newRegistry(),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.New().String() },
	}
}

// Start creates a running execution for agent and dispatches the model call
// in the background. Only record creation is awaited.
func (m *Manager) Start(ctx context.Context, agent *store.Agent) (*store.Execution, error) {
	tasks := llm.ValidTasks(agent.Tasks)
	if len(tasks) == 0 {
		return nil, ErrNoValidTasks
	}

	exec := &store.Execution{
		ID:        m.newID(),
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Status:    store.StatusRunning,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}

	prompt := llm.ComposePrompt(llm.PromptInput{
		Name:      agent.Name,
		Role:      agent.Role,
		Goal:      agent.Goal,
		Backstory: agent.Backstory,
		Tasks:     tasks,
	})

	// Detached from the request; keeps its values (trace) but not its cancellation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.registry.add(exec.ID, cancel, exec.CreatedAt)
	m.metrics.ExecutionsStarted.Add(ctx, 1)
	m.metrics.ActiveExecutions.Add(ctx, 1)

	m.logger.Info("execution started",
		"execution_id", exec.ID,
		"agent_id", agent.ID,
		"agent_name", agent.Name,
		"tasks", len(tasks),
		"active", m.registry.len(),
	)

	m.wg.Add(1)
	go m.run(runCtx, cancel, exec.ID, agent.ID, prompt)

	return exec, nil
}

type outcome struct {
	text string
	err  error
}

// run races the invocation against the timeout and records exactly one terminal state.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, execID, agentID, prompt string) {
	defer m.wg.Done()
	defer m.finish(execID)
	defer cancel()

	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, m.tracer, "execution.run",
		telemetry.AttrExecutionID.String(execID),
		telemetry.AttrAgentID.String(agentID),
		telemetry.AttrModel.String(m.invoker.Name()),
	)
	defer span.End()

	// Buffered so the losing invocation can still deliver and exit
	done := make(chan outcome, 1)
	go func() {
		text, err := m.invoker.Generate(ctx, prompt)
		done <- outcome{text: text, err: err}
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var status, result string
	select {
	case out := <-done:
		if out.err != nil {
			status, result = store.StatusFailed, failureMessage(out.err)
		} else {
			status, result = store.StatusCompleted, m.truncate(execID, out.text)
		}
	case <-timer.C:
		status, result = store.StatusFailed, TimeoutMessage(m.timeout)
	case <-ctx.Done():
		status, result = store.StatusFailed, MessageCancelled
	}

	// Stop the invocation if it is still running; the outcome is already decided
	cancel()

	span.SetAttributes(telemetry.AttrStatus.String(status))
	if status == store.StatusFailed {
		span.SetStatus(codes.Error, result)
	}

	m.writeTerminal(execID, status, result)

	m.metrics.ExecutionsFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
	m.metrics.ExecutionDuration.Record(context.Background(), time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// writeTerminal persists the outcome once. A failed write is logged and left
// for the stuck-execution sweep.
func (m *Manager) writeTerminal(execID, status, result string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := m.store.UpdateExecution(ctx, execID, status, &result); err != nil {
		m.metrics.WriteFailures.Add(ctx, 1)
		m.logger.Error("failed to record execution outcome",
			"execution_id", execID,
			"status", status,
			"original_outcome", preview(result),
			"error", err,
		)
		return
	}

	level := slog.LevelInfo
	if status == store.StatusFailed {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "execution finished",
		"execution_id", execID,
		"status", status,
		"result_chars", len(result),
	)
}

func (m *Manager) finish(execID string) {
	m.registry.remove(execID)
	m.metrics.ActiveExecutions.Add(context.Background(), -1)
}

// Wait blocks until every in-flight execution has settled or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timeout returns the configured execution timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// TimeoutMessage is the result recorded when an execution exceeds d.
func TimeoutMessage(d time.Duration) string {
	secs := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	return "Execution timed out after " + secs + " seconds"
}

func failureMessage(err error) string {
	if msg := llm.Describe(err); msg != "" {
		return msg
	}
	return MessageFailed
}

func preview(s string) string {
	const max = 200
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
