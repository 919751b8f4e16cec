// Package gateway orchestrates the crewdeck-gateway server components.
//
// # Overview
//
// The Gateway owns the store, the model invoker, the execution Manager and
// its Sweeper, and the HTTP server. New wires them from config; tests pass
// their own store and invoker through Options.
//
// # HTTP API
//
// Routes are registered in gateway.go and handled in api.go and health.go:
//
//   - GET /health, GET /health/ready - liveness and database readiness
//   - GET /api/health - database and model status
//   - GET, POST /api/agents - list in display order, create
//   - GET, PATCH, DELETE /api/agents/{id}
//   - PATCH /api/agents/reorder - assign display positions in one transaction
//   - POST /api/agents/{id}/execute - 202 with a running execution
//   - GET /api/executions?limit=N - newest first
//   - GET /api/executions/status - in-flight executions against the limit
//   - GET /api/executions/{id}
//   - POST /api/executions/{id}/cancel
//
// Errors are JSON: {"error": "...", "details": ..., "timestamp": "..."}.
//
// # Middleware
//
// API routes pass through request logging, CORS, an optional per-IP rate
// limit, a body size limit and a request timeout. Agent reads are served
// from an optional response cache that any successful write purges.
//
// # Lifecycle
//
// Run reclaims executions left running by a previous process, starts the
// sweep schedule and serves until its context is cancelled. Shutdown then
// stops the server and the schedule, waits briefly for in-flight executions
// and closes the store.
package gateway
