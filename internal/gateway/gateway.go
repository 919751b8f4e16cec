// ABOUTME: Gateway orchestrator that wires store, model invoker, execution manager and HTTP server
// ABOUTME: Owns startup sweep, scheduled sweeps, config reload and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
	"github.com/crewdeck/crewdeck-gateway/internal/execution"
	"github.com/crewdeck/crewdeck-gateway/internal/llm"
	"github.com/crewdeck/crewdeck-gateway/internal/respcache"
	"github.com/crewdeck/crewdeck-gateway/internal/store"
	"github.com/crewdeck/crewdeck-gateway/internal/telemetry"
	"github.com/crewdeck/crewdeck-gateway/internal/validation"
)

// shutdownTimeout bounds graceful shutdown, including in-flight executions.
const shutdownTimeout = 5 * time.Second

// Options carries optional dependencies. Zero values are built from config.
type Options struct {
	// ConfigPath enables hot reload of logging.level when set.
	ConfigPath string
	// Level is adjusted on reload; ignored when nil.
	Level *slog.LevelVar
	// Version is reported to telemetry.
	Version string

	Store     store.Store
	Invoker   llm.Invoker
	Telemetry *telemetry.Provider
}

// Gateway serves the agents API and runs executions in the background.
type Gateway struct {
	config     *config.Config
	store      store.Store
	invoker    llm.Invoker
	manager    *execution.Manager
	sweeper    *execution.Sweeper
	validator  *validation.Validator
	cache      *respcache.Cache
	limiter    *rateLimiter
	telemetry  *telemetry.Provider
	watcher    *config.Watcher
	httpServer *http.Server
	logger     *slog.Logger
	level      *slog.LevelVar

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite database named in config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initInvoker builds the model client. A missing key is not fatal: the
// server starts and executions fail with a credentials hint.
func initInvoker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Invoker, error) {
	inv, err := llm.New(ctx, cfg.Model, logger.With("component", "llm"))
	if errors.Is(err, llm.ErrMissingAPIKey) {
		logger.Warn("model API key not configured; executions will fail until it is set",
			"provider", cfg.Model.Provider)
		return llm.Unconfigured{Provider: cfg.Model.Provider}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("initializing model client: %w", err)
	}
	return inv, nil
}

// New builds a Gateway from cfg. Components missing from opts are created.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	ctx := context.Background()

	tel := opts.Telemetry
	if tel == nil {
		var err error
		tel, err = telemetry.Init(ctx, cfg.Telemetry, opts.Version)
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
	}

	s := opts.Store
	if s == nil {
		var err error
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	inv := opts.Invoker
	if inv == nil {
		var err error
		inv, err = initInvoker(ctx, cfg, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	manager := execution.NewManager(s, inv, execution.Options{
		Timeout:        cfg.Execution.Timeout,
		MaxConcurrent:  cfg.Execution.MaxConcurrent,
		MaxResultChars: cfg.Execution.MaxResultChars,
		Logger:         logger,
		Telemetry:      tel,
	})

	sweeper, err := execution.NewSweeper(execution.SweeperConfig{
		Manager:    manager,
		Logger:     logger,
		Schedule:   cfg.Execution.SweepSchedule,
		StuckAfter: cfg.Execution.StuckAfter,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	validator, err := validation.New()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("compiling request schemas: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		invoker:   inv,
		manager:   manager,
		sweeper:   sweeper,
		validator: validator,
		telemetry: tel,
		logger:    logger.With("component", "gateway"),
		level:     opts.Level,
	}

	if cfg.Cache.Enabled {
		gw.cache = respcache.New(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}
	if cfg.Security.RateLimit.Enabled {
		gw.limiter = newRateLimiter(cfg.Security.RateLimit.Window, cfg.Security.RateLimit.MaxRequests)
		gw.limiter.trustProxy = cfg.Security.TrustProxy
	}
	if opts.ConfigPath != "" {
		gw.watcher = config.NewWatcher(opts.ConfigPath, logger, gw.applyReload)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway initialized",
		"model", inv.Name(),
		"execution_timeout", cfg.Execution.Timeout,
		"max_concurrent", cfg.Execution.MaxConcurrent,
		"enforce_limit", cfg.Execution.EnforceLimit,
		"cache", cfg.Cache.Enabled,
		"rate_limit", cfg.Security.RateLimit.Enabled,
	)
	return gw, nil
}

// Handler returns the full HTTP handler: health probes plus the API chain.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.Handle("/api/", g.apiHandler())
	return mux
}

// apiHandler applies middleware outermost first: logging, CORS, rate limit,
// body limit, request timeout.
func (g *Gateway) apiHandler() http.Handler {
	var h http.Handler = g.apiRoutes()
	if g.config.Server.RequestTimeout > 0 {
		h = http.TimeoutHandler(h, g.config.Server.RequestTimeout, `{"error":"Request timed out"}`)
	}
	h = bodyLimit(g.config.Server.MaxBodyBytes)(h)
	if g.limiter != nil {
		h = g.limiter.middleware(g.telemetry.Metrics, g.logger)(h)
	}
	h = cors(g.config.Security.AllowedOrigins)(h)
	return requestLogger(g.logger)(h)
}

func (g *Gateway) apiRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", g.handleAPIHealth)

	agents := http.NewServeMux()
	agents.HandleFunc("GET /api/agents", g.handleListAgents)
	agents.HandleFunc("POST /api/agents", g.handleCreateAgent)
	agents.HandleFunc("PATCH /api/agents/reorder", g.handleReorderAgents)
	agents.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	agents.HandleFunc("PATCH /api/agents/{id}", g.handleUpdateAgent)
	agents.HandleFunc("DELETE /api/agents/{id}", g.handleDeleteAgent)
	agents.HandleFunc("POST /api/agents/{id}/execute", g.handleExecuteAgent)

	var agentHandler http.Handler = agents
	if g.cache != nil {
		agentHandler = g.cache.Middleware(agents)
	}
	mux.Handle("/api/agents", agentHandler)
	mux.Handle("/api/agents/", agentHandler)

	// Executions change in the background, so they are never cached
	mux.HandleFunc("GET /api/executions", g.handleListExecutions)
	mux.HandleFunc("GET /api/executions/status", g.handleExecutionStatus)
	mux.HandleFunc("GET /api/executions/{id}", g.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", g.handleCancelExecution)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusNotFound, "Not found")
	})
	return mux
}

// applyReload applies settings that are safe to change while serving.
func (g *Gateway) applyReload(cfg *config.Config) {
	if g.level != nil {
		level := config.ParseLevel(cfg.Logging.Level)
		if level != g.level.Level() {
			g.level.Set(level)
			g.logger.Info("log level changed", "level", level.String())
		}
	}
	if cfg.Execution != g.config.Execution {
		g.logger.Warn("execution settings changed; restart to apply")
	}
}

// Run serves HTTP until ctx is cancelled. Stuck executions left by a previous
// process are reclaimed before the listener accepts requests.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	if _, err := g.sweeper.RunStartup(ctx); err != nil {
		g.logger.Error("startup sweep failed", "error", err)
	}
	if err := g.sweeper.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.watcher != nil {
		grp.Go(func() error {
			if err := g.watcher.Run(gctx); err != nil {
				g.logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	if g.limiter != nil {
		grp.Go(func() error {
			g.limiter.runEviction(gctx)
			return nil
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return grp.Wait()
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, halts the sweep schedule, waits for
// in-flight executions until ctx expires and releases resources. Executions
// still running afterwards are reclaimed by the next startup sweep.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.sweeper.Stop()

		if err := g.manager.Wait(ctx); err != nil {
			g.logger.Warn("executions still running at shutdown", "active", g.manager.Active())
		}

		if g.cache != nil {
			hits, misses := g.cache.Stats()
			g.logger.Info("response cache closed", "hits", hits, "misses", misses, "entries", g.cache.Len())
			g.cache.Close()
		}
		errs = appendCloseError(errs, "telemetry shutdown", g.telemetry.Shutdown(ctx))
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
