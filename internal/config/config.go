// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, the
// relational store, the durable queue, the polling scheduler, the capability
// connectors, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
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

// DBConfig selects and locates the relational store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	DSN    string // Postgres DSN (DATABASE_URL)
}

// QueueConfig drives the durable work queue and its workers.
type QueueConfig struct {
	Backend            string        // db|redis
	Name               string        // logical queue name
	RedisURL           string        // redis://host:6379/0
	Concurrency        int           // worker goroutines
	MaxAttempts        int           // deliveries before a job is dead
	BackoffInitial     time.Duration // first retry delay
	BackoffMax         time.Duration // retry delay cap
	Lease              time.Duration // visibility timeout for a claimed job
	PollInterval       time.Duration // idle sleep between empty dequeues
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	PurgeInterval      time.Duration
}

// SchedulerConfig drives the polling detector.
type SchedulerConfig struct {
	Tick             time.Duration // detector cadence
	Concurrency      int           // polls in flight per cycle
	FailureThreshold int           // consecutive failures before pausing a hook job
}

// CatalogConfig points at the declarative service catalog.
type CatalogConfig struct {
	Path     string        // YAML file; empty disables seeding
	Watch    bool          // reload on change
	CacheTTL time.Duration // how long a worker trusts a cached catalog reaction
}

// OAuthClient holds the token endpoint settings for one service.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
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
	PublicBaseURL     string        // used to build webhook endpoints

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Engine
	Queue             QueueConfig
	Scheduler         SchedulerConfig
	CapabilityTimeout time.Duration // per poll / per reaction call
	AutoResume        bool          // resume token-paused hook jobs after a refresh

	// Webhooks
	WebhookMaxBody   int64
	WebhookRateRPS   float64
	WebhookRateBurst int

	// Catalog and connectors
	Catalog      CatalogConfig
	OAuth        map[string]OAuthClient // keyed by service name
	DiscordToken string
	SlackToken   string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		PublicBaseURL:     strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "area.db"),
			DSN:    getenv("DATABASE_URL", ""),
		},

		Queue: QueueConfig{
			Backend:            strings.ToLower(getenv("QUEUE_BACKEND", "db")),
			Name:               getenv("QUEUE_NAME", "area_execution"),
			RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
			Concurrency:        getint("WORKER_CONCURRENCY", 5),
			MaxAttempts:        getint("QUEUE_MAX_ATTEMPTS", 3),
			BackoffInitial:     getdur("QUEUE_BACKOFF_INITIAL", 2*time.Second),
			BackoffMax:         getdur("QUEUE_BACKOFF_MAX", 5*time.Minute),
			Lease:              getdur("QUEUE_LEASE", 2*time.Minute),
			PollInterval:       getdur("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			CompletedRetention: getdur("QUEUE_COMPLETED_RETENTION", 24*time.Hour),
			FailedRetention:    getdur("QUEUE_FAILED_RETENTION", 7*24*time.Hour),
			PurgeInterval:      getdur("QUEUE_PURGE_INTERVAL", 10*time.Minute),
		},

		Scheduler: SchedulerConfig{
			Tick:             getdur("SCHEDULER_TICK", 5*time.Second),
			Concurrency:      getint("SCHEDULER_CONCURRENCY", 10),
			FailureThreshold: getint("HOOK_FAILURE_THRESHOLD", 3),
		},
		CapabilityTimeout: getdur("CAPABILITY_TIMEOUT", 30*time.Second),
		AutoResume:        getbool("AUTO_RESUME_ON_REFRESH", true),

		WebhookMaxBody:   int64(getint("WEBHOOK_MAX_BODY", 1<<20)),
		WebhookRateRPS:   getfloat("WEBHOOK_RATE_RPS", 20),
		WebhookRateBurst: getint("WEBHOOK_RATE_BURST", 40),

		Catalog: CatalogConfig{
			Path:     getenv("CATALOG_PATH", ""),
			Watch:    getbool("CATALOG_WATCH", false),
			CacheTTL: getdur("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		OAuth:        loadOAuthClients(splitCSV(getenv("OAUTH_SERVICES", ""))),
		DiscordToken: getenv("DISCORD_BOT_TOKEN", ""),
		SlackToken:   getenv("SLACK_BOT_TOKEN", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Protocol:    strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "area-engine"),
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
	if cfg.OTEL.Protocol == "http/protobuf" {
		cfg.OTEL.Protocol = "http"
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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.Queue.Backend {
	case "db", "redis":
	default:
		return cfg, errors.New("QUEUE_BACKEND must be one of: db, redis")
	}
	if cfg.Queue.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.BackoffInitial <= 0 || cfg.Queue.BackoffMax < cfg.Queue.BackoffInitial {
		return cfg, errors.New("QUEUE_BACKOFF_INITIAL must be > 0 and <= QUEUE_BACKOFF_MAX")
	}
	if cfg.Queue.Lease <= 0 || cfg.Queue.PollInterval <= 0 || cfg.Queue.PurgeInterval <= 0 {
		return cfg, errors.New("queue intervals must be positive durations")
	}
	if cfg.Queue.CompletedRetention <= 0 || cfg.Queue.FailedRetention <= 0 {
		return cfg, errors.New("queue retention windows must be positive durations")
	}
	if cfg.Scheduler.Tick <= 0 {
		return cfg, errors.New("SCHEDULER_TICK must be > 0")
	}
	if cfg.Scheduler.Concurrency < 1 {
		return cfg, errors.New("SCHEDULER_CONCURRENCY must be >= 1")
	}
	if cfg.Scheduler.FailureThreshold < 1 {
		return cfg, errors.New("HOOK_FAILURE_THRESHOLD must be >= 1")
	}
	if cfg.CapabilityTimeout <= 0 {
		return cfg, errors.New("CAPABILITY_TIMEOUT must be > 0")
	}
	if cfg.WebhookMaxBody <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY must be > 0")
	}
	if cfg.WebhookRateRPS < 0 || cfg.WebhookRateBurst < 1 {
		return cfg, errors.New("WEBHOOK_RATE_RPS must be >= 0 and WEBHOOK_RATE_BURST >= 1")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	switch cfg.OTEL.Protocol {
	case "grpc", "http":
	default:
		return cfg, errors.New("OTEL_EXPORTER_OTLP_PROTOCOL must be one of: grpc, http")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	for name, c := range cfg.OAuth {
		if c.ClientID == "" || c.TokenURL == "" {
			return cfg, fmt.Errorf("OAUTH_%s_CLIENT_ID and OAUTH_%s_TOKEN_URL are required", envName(name), envName(name))
		}
	}

	return cfg, nil
}

// loadOAuthClients reads OAUTH_<SERVICE>_* for each listed service.
func loadOAuthClients(services []string) map[string]OAuthClient {
	out := make(map[string]OAuthClient, len(services))
	for _, s := range services {
		name := strings.ToLower(s)
		prefix := "OAUTH_" + envName(name) + "_"
		out[name] = OAuthClient{
			ClientID:     getenv(prefix+"CLIENT_ID", ""),
			ClientSecret: getenv(prefix+"CLIENT_SECRET", ""),
			TokenURL:     getenv(prefix+"TOKEN_URL", ""),
		}
	}
	return out
}

func envName(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
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
