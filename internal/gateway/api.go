// ABOUTME: HTTP API handlers for agent CRUD, reordering, execution dispatch and execution queries
// ABOUTME: Bodies are validated against JSON Schemas before any store call

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck-gateway/internal/execution"
	"github.com/crewdeck/crewdeck-gateway/internal/store"
	"github.com/crewdeck/crewdeck-gateway/internal/validation"
)

// maxListLimit caps GET /api/executions?limit=.
const maxListLimit = 1000

// timestampLayout is millisecond-precision UTC, matching what browsers produce.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// AgentResponse is the JSON shape of an agent.
type AgentResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Goal      string   `json:"goal"`
	Backstory string   `json:"backstory"`
	Tasks     []string `json:"tasks"`
	Order     int      `json:"order"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// ExecutionResponse is the JSON shape of an execution.
type ExecutionResponse struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agentId"`
	AgentName string  `json:"agentName"`
	Status    string  `json:"status"`
	Result    *string `json:"result"`
	CreatedAt string  `json:"createdAt"`
}

// AgentRequest is the body of POST and PATCH /api/agents. On PATCH, absent
// fields are left unchanged.
type AgentRequest struct {
	Name      *string  `json:"name"`
	Role      *string  `json:"role"`
	Goal      *string  `json:"goal"`
	Backstory *string  `json:"backstory"`
	Tasks     []string `json:"tasks"`
}

// ReorderRequest is the body of PATCH /api/agents/reorder.
type ReorderRequest struct {
	Agents []struct {
		ID    string `json:"id"`
		Order int    `json:"order"`
	} `json:"agents"`
}

// QueueStatusResponse is the JSON shape of GET /api/executions/status.
type QueueStatusResponse struct {
	Active        int          `json:"active"`
	MaxConcurrent int          `json:"maxConcurrent"`
	Queued        int          `json:"queued"`
	CanStart      bool         `json:"canStart"`
	EnforceLimit  bool         `json:"enforceLimit"`
	TimeoutSec    int          `json:"timeoutSeconds"`
	Queue         []QueueEntry `json:"queue"`
}

// QueueEntry is one in-flight execution in QueueStatusResponse.
type QueueEntry struct {
	ID        string  `json:"id"`
	StartedAt string  `json:"startedAt"`
	Seconds   float64 `json:"runningSeconds"`
}

func toAgentResponse(a *store.Agent) AgentResponse {
	tasks := a.Tasks
	if tasks == nil {
		tasks = []string{}
	}
	return AgentResponse{
		ID:        a.ID,
		Name:      a.Name,
		Role:      a.Role,
		Goal:      a.Goal,
		Backstory: a.Backstory,
		Tasks:     tasks,
		Order:     a.Order,
		CreatedAt: formatTimestamp(a.CreatedAt),
		UpdatedAt: formatTimestamp(a.UpdatedAt),
	}
}

func toExecutionResponse(e *store.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:        e.ID,
		AgentID:   e.AgentID,
		AgentName: e.AgentName,
		Status:    e.Status,
		Result:    e.Result,
		CreatedAt: formatTimestamp(e.CreatedAt),
	}
}

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSONErrorDetails(w, status, message, nil)
}

func sendJSONErrorDetails(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		Details:   details,
		Timestamp: formatTimestamp(time.Now()),
	})
}

// readValidated reads the body and checks it against kind. It writes the
// error response itself and returns false when the body is unusable.
func (g *Gateway) readValidated(w http.ResponseWriter, r *http.Request, kind validation.Kind, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		sendJSONError(w, http.StatusBadRequest, "Could not read request body")
		return false
	}

	if err := g.validator.Validate(kind, body); err != nil {
		var verr *validation.Error
		switch {
		case errors.As(err, &verr):
			g.logger.Warn("validation error", "path", r.URL.Path, "details", verr.Details)
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:     "Validation failed",
				Details:   verr.Details,
				Message:   verr.Error(),
				Timestamp: formatTimestamp(time.Now()),
			})
		case errors.Is(err, validation.ErrMalformed):
			sendJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		default:
			g.logger.Error("unexpected validation error", "path", r.URL.Path, "error", err)
			sendJSONError(w, http.StatusInternalServerError, "Server error during validation")
		}
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to list agents")
		return
	}

	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get agent", "agent_id", r.PathValue("id"), "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to get agent")
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if !g.readValidated(w, r, validation.AgentCreate, &req) {
		return
	}

	agent := &store.Agent{
		ID:        uuid.New().String(),
		Name:      *req.Name,
		Role:      *req.Role,
		Goal:      *req.Goal,
		Backstory: *req.Backstory,
		Tasks:     req.Tasks,
	}
	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		g.logger.Error("failed to create agent", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to create agent")
		return
	}

	g.logger.Info("created agent", "agent_id", agent.ID, "name", agent.Name)
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

func (g *Gateway) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req AgentRequest
	if !g.readValidated(w, r, validation.AgentUpdate, &req) {
		return
	}

	agent, err := g.store.UpdateAgent(r.Context(), id, store.AgentUpdate{
		Name:      req.Name,
		Role:      req.Role,
		Goal:      req.Goal,
		Backstory: req.Backstory,
		Tasks:     req.Tasks,
	})
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to update agent", "agent_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to update agent")
		return
	}

	g.logger.Info("updated agent", "agent_id", agent.ID, "name", agent.Name)
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := g.store.DeleteAgent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete agent", "agent_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to delete agent")
		return
	}

	g.logger.Info("deleted agent", "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleReorderAgents(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !g.readValidated(w, r, validation.Reorder, &req) {
		return
	}

	orders := make([]store.AgentOrder, 0, len(req.Agents))
	for _, a := range req.Agents {
		orders = append(orders, store.AgentOrder{ID: a.ID, Order: a.Order})
	}

	err := g.store.ReorderAgents(r.Context(), orders)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONErrorDetails(w, http.StatusNotFound, "Agent not found", err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to reorder agents", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to reorder agents")
		return
	}

	g.logger.Info("reordered agents", "count", len(orders))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleExecuteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	agent, err := g.store.GetAgent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get agent", "agent_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to get agent")
		return
	}

	if len(agent.Tasks) == 0 {
		sendJSONError(w, http.StatusBadRequest, "Agent has no tasks to execute")
		return
	}

	if g.config.Execution.EnforceLimit && !g.manager.CanStart() {
		sendJSONErrorDetails(w, http.StatusTooManyRequests, "Too many concurrent executions", map[string]int{
			"active":        g.manager.Active(),
			"maxConcurrent": g.manager.MaxConcurrent(),
		})
		return
	}

	exec, err := g.manager.Start(r.Context(), agent)
	if errors.Is(err, execution.ErrNoValidTasks) {
		sendJSONError(w, http.StatusBadRequest, "Agent has no valid tasks to execute")
		return
	}
	if err != nil {
		g.logger.Error("failed to start execution", "agent_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to start execution")
		return
	}

	writeJSON(w, http.StatusAccepted, toExecutionResponse(exec))
}

// parseLimit reads ?limit=. Absent means no limit.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		return 0, false
	}
	return n, true
}

func (g *Gateway) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		sendJSONErrorDetails(w, http.StatusBadRequest, "Invalid limit parameter",
			"Limit must be a positive number between 1 and 1000")
		return
	}

	execs, err := g.store.ListExecutions(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list executions", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	resp := make([]ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		resp = append(resp, toExecutionResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := g.store.GetExecution(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Execution not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get execution", "execution_id", r.PathValue("id"), "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResponse(exec))
}

func (g *Gateway) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	status := g.manager.Status()
	now := time.Now()

	queue := make([]QueueEntry, 0, len(status.Queue))
	for _, q := range status.Queue {
		queue = append(queue, QueueEntry{
			ID:        q.ID,
			StartedAt: formatTimestamp(q.StartedAt),
			Seconds:   now.Sub(q.StartedAt).Round(time.Millisecond).Seconds(),
		})
	}

	writeJSON(w, http.StatusOK, QueueStatusResponse{
		Active:        status.Active,
		MaxConcurrent: status.MaxConcurrent,
		Queued:        status.Queued,
		CanStart:      g.manager.CanStart(),
		EnforceLimit:  g.config.Execution.EnforceLimit,
		TimeoutSec:    int(g.manager.Timeout() / time.Second),
		Queue:         queue,
	})
}

func (g *Gateway) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.manager.Cancel(id); errors.Is(err, execution.ErrExecutionNotFound) {
		sendJSONError(w, http.StatusNotFound, "Execution not found or already completed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Execution cancellation requested",
	})
}
