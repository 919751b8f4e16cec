// ABOUTME: Liveness, readiness and API health endpoints
// ABOUTME: Readiness and /api/health ping the database; /api/health also reports model configuration

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crewdeck/crewdeck-gateway/internal/llm"
)

// healthPingTimeout bounds the database ping behind the health endpoints.
const healthPingTimeout = 2 * time.Second

// HealthResponse is the JSON shape of GET /api/health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  HealthServices `json:"services"`
}

// HealthServices reports each dependency.
type HealthServices struct {
	Database string `json:"database"`
	Model    string `json:"model"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.pingStore(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "database unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d executions running)", g.manager.Active())
}

func (g *Gateway) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: formatTimestamp(time.Now()),
		Services: HealthServices{
			Database: "connected",
			Model:    "configured",
		},
	}
	code := http.StatusOK

	if err := g.pingStore(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Services.Database = "disconnected"
		code = http.StatusServiceUnavailable
		g.logger.Warn("health check returned degraded status", "error", err)
	}
	if !llm.Configured(g.invoker) {
		resp.Services.Model = "missing_api_key"
	}

	writeJSON(w, code, resp)
}

func (g *Gateway) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return g.store.Ping(ctx)
}
