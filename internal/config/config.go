// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, logging,
// the database, the Slack app credentials, the AI backend, the admission
// ledger, the worker pool, the event bus, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the inspection API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Protocol    string  // OTEL_EXPORTER_OTLP_PROTOCOL: grpc|http
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SlackConfig holds the Slack app credentials.
type SlackConfig struct {
	BotToken      string // SLACK_BOT_TOKEN (xoxb-...)
	AppToken      string // SLACK_APP_TOKEN (xapp-..., socket mode only)
	SigningSecret string // SLACK_SIGNING_SECRET
	MainCommand   string // SLACK_MAIN_COMMAND, e.g. "/assistant"
}

// AIConfig selects and tunes the text-completion backend.
type AIConfig struct {
	Provider    string // gemini|openai|anthropic
	APIKey      string
	Model       string
	BaseURL     string // optional override
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// AgentConfig tunes the event pipeline.
type AgentConfig struct {
	HistoryLimit    int           // answered turns (query plus response) loaded per event
	LedgerRetention time.Duration // how long completed dedupe keys are remembered
	SweepInterval   time.Duration // how often the ledger is swept
	Workers         int
	QueueSize       int
}

// NATSConfig configures the optional turn event sink.
type NATSConfig struct {
	URL    string // empty disables publishing
	Token  string
	Stream string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for the inspection API

	// Database
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path
	DBDSN    string // Postgres DSN (Supabase connection string)

	Slack SlackConfig
	AI    AIConfig
	Agent AgentConfig
	NATS  NATSConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "agent.db"),
		DBDSN:    getenv("DB_DSN", ""),

		Slack: SlackConfig{
			BotToken:      getenv("SLACK_BOT_TOKEN", ""),
			AppToken:      getenv("SLACK_APP_TOKEN", ""),
			SigningSecret: getenv("SLACK_SIGNING_SECRET", ""),
			MainCommand:   normalizeCommand(getenv("SLACK_MAIN_COMMAND", "/assistant")),
		},
		AI: AIConfig{
			Provider:    strings.ToLower(getenv("AI_PROVIDER", "gemini")),
			APIKey:      getenv("AI_API_KEY", os.Getenv("GEMINI_API_KEY")),
			Model:       getenv("AI_MODEL", ""),
			BaseURL:     getenv("AI_BASE_URL", ""),
			MaxTokens:   getint("AI_MAX_TOKENS", 2048),
			Temperature: getfloat("AI_TEMPERATURE", 0.7),
			Timeout:     getdur("AI_TIMEOUT", 60*time.Second),
		},
		Agent: AgentConfig{
			HistoryLimit:    getint("HISTORY_LIMIT", 50),
			LedgerRetention: getdur("LEDGER_RETENTION", 5*time.Minute),
			SweepInterval:   getdur("LEDGER_SWEEP_INTERVAL", time.Minute),
			Workers:         getint("WORKER_COUNT", 4),
			QueueSize:       getint("WORKER_QUEUE", 256),
		},
		NATS: NATSConfig{
			URL:    getenv("NATS_URL", ""),
			Token:  getenv("NATS_TOKEN", ""),
			Stream: getenv("NATS_STREAM", "AGENT_TURNS"),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Protocol:    strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "slack-agent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "supabase" {
		cfg.DBDriver = "postgres"
	}
	if cfg.OTEL.Protocol == "http/protobuf" {
		cfg.OTEL.Protocol = "http"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.AI.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return cfg, errors.New("AI_PROVIDER must be one of: gemini, openai, anthropic")
	}
	if cfg.AI.MaxTokens <= 0 {
		return cfg, errors.New("AI_MAX_TOKENS must be > 0")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	if cfg.AI.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT must be > 0")
	}
	if cfg.Agent.HistoryLimit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.Agent.LedgerRetention <= 0 || cfg.Agent.SweepInterval <= 0 {
		return cfg, errors.New("LEDGER_RETENTION and LEDGER_SWEEP_INTERVAL must be > 0")
	}
	if cfg.Agent.Workers < 1 {
		return cfg, errors.New("WORKER_COUNT must be >= 1")
	}
	if cfg.Agent.QueueSize < 1 {
		return cfg, errors.New("WORKER_QUEUE must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	switch cfg.OTEL.Protocol {
	case "grpc", "http":
	default:
		return cfg, errors.New("OTEL_EXPORTER_OTLP_PROTOCOL must be grpc or http")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ValidateSlackHTTP reports whether the webhook (Events API) mode can start.
func (c Config) ValidateSlackHTTP() error {
	if c.Slack.BotToken == "" {
		return errors.New("SLACK_BOT_TOKEN is required")
	}
	if c.Slack.SigningSecret == "" {
		return errors.New("SLACK_SIGNING_SECRET is required")
	}
	return nil
}

// ValidateSlackSocket reports whether Socket Mode can start.
func (c Config) ValidateSlackSocket() error {
	if c.Slack.BotToken == "" {
		return errors.New("SLACK_BOT_TOKEN is required")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return errors.New("SLACK_APP_TOKEN must be an app-level token (xapp-...)")
	}
	return nil
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	default:
		return "gemini-2.0-flash"
	}
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func normalizeCommand(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return "/assistant"
	}
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}
