// ABOUTME: Entry point for crewdeck-gateway, the agents API and execution server
// ABOUTME: Subcommands serve, init, health, sweep and version

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
	"github.com/crewdeck/crewdeck-gateway/internal/execution"
	"github.com/crewdeck/crewdeck-gateway/internal/gateway"
	"github.com/crewdeck/crewdeck-gateway/internal/llm"
	"github.com/crewdeck/crewdeck-gateway/internal/store"
	"github.com/crewdeck/crewdeck-gateway/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                               _           _
  ___ _ __ _____      ____  __| | ___  ___| | __
 / __| '__/ _ \ \ /\ / / _' |/ _ \/ __| |/ /
| (__| | |  __/\ V  V / (_| |  __/ (__|   <
 \___|_|  \___| \_/\_/ \__,_|\___|\___|_|\_\
`

// getConfigPath returns the path to the gateway config file.
// Priority: CREWDECK_CONFIG env var > XDG_CONFIG_HOME/crewdeck/gateway.yaml > ~/.config/crewdeck/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CREWDECK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "crewdeck", "gateway.yaml")
}

// getDataPath returns the path to the crewdeck data directory.
// Priority: XDG_DATA_HOME/crewdeck > ~/.local/share/crewdeck
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "crewdeck")
}

func usage() {
	fmt.Println("Usage: crewdeck-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve           Start the gateway server")
	fmt.Println("  init            Create a new config file interactively")
	fmt.Println("  health          Check gateway health")
	fmt.Println("  sweep [--all]   Fail executions stuck in running (--all: every running one)")
	fmt.Println("  version         Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "sweep":
		err = runSweep(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Logging.Level))
	logger := setupLogger(cfg.Logging, level, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s", cfg.Model.Provider)
	if cfg.Model.Model != "" {
		fmt.Printf("/%s", cfg.Model.Model)
	}
	if cfg.Model.APIKey == "" {
		yellow.Print(" [no api key]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Executions: timeout %s, max %d", cfg.Execution.Timeout, cfg.Execution.MaxConcurrent)
	if cfg.Execution.EnforceLimit {
		yellow.Print(" [enforced]")
	}
	fmt.Println()
	if cfg.Telemetry.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Telemetry: ")
		cyan.Print(cfg.Telemetry.Exporter)
		if cfg.Telemetry.Endpoint != "" {
			gray.Printf(" (%s)", cfg.Telemetry.Endpoint)
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting crewdeck-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger, gateway.Options{
		ConfigPath: configPath,
		Level:      level,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig, level *slog.LevelVar, out io.Writer) *slog.Logger {
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{
			mu:    &sync.Mutex{},
			out:   out,
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// The level is read through a LevelVar so reloads take effect immediately.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	if prefix != "" {
		prefix += "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		mu:     h.mu,
		out:    h.out,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		mu:     h.mu,
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runSweep fails stuck executions directly in the database. With --all it
// reclaims every running execution; use that only while the server is stopped.
func runSweep(ctx context.Context, args []string) error {
	all := false
	for _, arg := range args {
		switch arg {
		case "--all":
			all = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Logging.Level))
	logger := setupLogger(cfg.Logging, level, os.Stderr)

	// Sweeping never invokes the model
	manager := execution.NewManager(s, llm.Unconfigured{Provider: cfg.Model.Provider}, execution.Options{
		Logger:    logger,
		Telemetry: telemetry.Noop(),
	})

	minutes := cfg.Execution.StuckAfterMinutes()
	if all {
		minutes = 0
	}

	count, err := manager.SweepStuck(ctx, minutes)
	if err != nil {
		return fmt.Errorf("sweeping executions: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Reclaimed %d stuck execution(s)\n", count)
	return nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("crewdeck-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:3001")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Model Configuration ---")
	provider := strings.ToLower(prompt(reader, "Provider (google/anthropic)", config.DefaultProvider))
	defaultModel, defaultKeyVar := llm.DefaultGoogleModel, "GEMINI_API_KEY"
	if provider == "anthropic" {
		defaultModel, defaultKeyVar = llm.DefaultAnthropicModel, "ANTHROPIC_API_KEY"
	}
	model := prompt(reader, "Model", defaultModel)
	keyVar := prompt(reader, "Environment variable holding the API key", defaultKeyVar)

	fmt.Println("\n--- Execution Configuration ---")
	timeout := prompt(reader, "Execution timeout", config.DefaultTimeout.String())
	maxConcurrent := prompt(reader, "Max concurrent executions", fmt.Sprint(config.DefaultMaxConcurrent))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# crewdeck-gateway configuration\n")
	cfg.WriteString("# Generated by crewdeck-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("  request_timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("model:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", provider))
	cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	cfg.WriteString(fmt.Sprintf("  api_key: \"${%s}\"\n", keyVar))
	cfg.WriteString("\n")

	cfg.WriteString("execution:\n")
	cfg.WriteString(fmt.Sprintf("  timeout: %q\n", timeout))
	cfg.WriteString(fmt.Sprintf("  stuck_after: %q\n", config.DefaultStuckAfter.String()))
	cfg.WriteString(fmt.Sprintf("  sweep_schedule: %q\n", config.DefaultSweepSchedule))
	cfg.WriteString(fmt.Sprintf("  max_concurrent: %s\n", maxConcurrent))
	cfg.WriteString("  enforce_limit: false\n")
	cfg.WriteString("\n")

	cfg.WriteString("security:\n")
	cfg.WriteString("  allowed_origins:\n")
	cfg.WriteString("    - \"http://localhost:5173\"\n")
	cfg.WriteString("  rate_limit:\n")
	cfg.WriteString("    enabled: true\n")
	cfg.WriteString("    window: \"15m\"\n")
	cfg.WriteString("    max_requests: 100\n")
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  enabled: false\n")

	// Refuse to write a file the server would reject
	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  export %s=...\n", keyVar)
	fmt.Printf("  crewdeck-gateway serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
