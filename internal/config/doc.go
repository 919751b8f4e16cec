// Package config handles configuration loading for crewdeck-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaulted and validated.
//
// # Configuration File
//
// The gateway binary looks in these locations, in order:
//
//  1. Path from CREWDECK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/crewdeck/gateway.yaml
//  3. ~/.config/crewdeck/gateway.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables. Unset variables expand to "".
//
//	model:
//	  api_key: "${GEMINI_API_KEY}"
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	execution:
//	  timeout: "5m"
//	  stuck_after: "10m"
//
// # Full Example
//
//	server:
//	  http_addr: "localhost:3001"
//	  request_timeout: "30s"
//	  max_body_bytes: 1048576
//
//	database:
//	  path: "/var/lib/crewdeck/gateway.db"
//
//	model:
//	  provider: "google"                   # google or anthropic
//	  model: "gemini-2.5-flash"
//	  api_key: "${GEMINI_API_KEY}"
//
//	execution:
//	  timeout: "5m"
//	  stuck_after: "10m"
//	  sweep_schedule: "@every 5m"          # cron spec or descriptor
//	  max_concurrent: 5
//	  enforce_limit: false                 # true rejects executions over max_concurrent with 429
//	  max_result_chars: 100000
//
//	security:
//	  allowed_origins: ["http://localhost:5173"]
//	  trust_proxy: false                   # true only behind a proxy that sets X-Forwarded-For
//	  rate_limit:
//	    enabled: true
//	    window: "15m"
//	    max_requests: 100
//
//	cache:
//	  enabled: false
//	  ttl: "5m"
//	  max_entries: 500
//
//	logging:
//	  level: "info"                        # debug, info, warn, error
//	  format: "text"                       # text or json
//
//	telemetry:
//	  enabled: false
//	  exporter: "otlp-http"                # otlp-http, stdout, none
//	  endpoint: "localhost:4318"
//
// # Reload
//
// Watcher re-reads the file when it changes. Only logging.level is applied
// while running; other changes need a restart.
package config
