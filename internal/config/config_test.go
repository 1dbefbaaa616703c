package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "area.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	q := cfg.Queue
	if q.Backend != "db" || q.Name != "area_execution" || q.Concurrency != 5 || q.MaxAttempts != 3 {
		t.Fatalf("queue defaults unexpected: %+v", q)
	}
	if q.BackoffInitial != 2*time.Second || q.CompletedRetention != 24*time.Hour || q.FailedRetention != 7*24*time.Hour {
		t.Fatalf("queue timings unexpected: %+v", q)
	}
	if cfg.Scheduler.FailureThreshold != 3 || cfg.Scheduler.Tick != 5*time.Second {
		t.Fatalf("scheduler defaults unexpected: %+v", cfg.Scheduler)
	}
	if !cfg.AutoResume {
		t.Fatalf("auto resume should default to true")
	}
	if cfg.APIBasePath != "/api/v1" || cfg.OTEL.Protocol != "grpc" {
		t.Fatalf("unexpected defaults: base=%q proto=%q", cfg.APIBasePath, cfg.OTEL.Protocol)
	}
	if len(cfg.OAuth) != 0 {
		t.Fatalf("no oauth clients expected, got %v", cfg.OAuth)
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("GIN_MODE", "weird") // normalizes to "release"
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("PUBLIC_BASE_URL", "https://hooks.example.com/")

	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/area")

	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "4")
	t.Setenv("QUEUE_BACKOFF_INITIAL", "1s")
	t.Setenv("QUEUE_BACKOFF_MAX", "1m")

	t.Setenv("SCHEDULER_TICK", "1s")
	t.Setenv("HOOK_FAILURE_THRESHOLD", "5")
	t.Setenv("AUTO_RESUME_ON_REFRESH", "off")
	t.Setenv("CATALOG_PATH", "catalog.yaml")
	t.Setenv("CATALOG_WATCH", "1")

	t.Setenv("OAUTH_SERVICES", "google, github-app")
	t.Setenv("OAUTH_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("OAUTH_GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	t.Setenv("OAUTH_GITHUB_APP_CLIENT_ID", "hid")
	t.Setenv("OAUTH_GITHUB_APP_CLIENT_SECRET", "hsecret")
	t.Setenv("OAUTH_GITHUB_APP_TOKEN_URL", "https://github.com/login/oauth/access_token")

	t.Setenv("RATE_RPS", "x") // falls back to default
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v2" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}
	if cfg.PublicBaseURL != "https://hooks.example.com" {
		t.Fatalf("public base url not trimmed: %q", cfg.PublicBaseURL)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN != "postgres://u:p@db/area" {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.RedisURL != "redis://cache:6379/2" ||
		cfg.Queue.Concurrency != 9 || cfg.Queue.MaxAttempts != 4 ||
		cfg.Queue.BackoffInitial != time.Second || cfg.Queue.BackoffMax != time.Minute {
		t.Fatalf("queue unexpected: %+v", cfg.Queue)
	}
	if cfg.Scheduler.Tick != time.Second || cfg.Scheduler.FailureThreshold != 5 || cfg.AutoResume {
		t.Fatalf("scheduler unexpected: %+v resume=%v", cfg.Scheduler, cfg.AutoResume)
	}
	if cfg.Catalog.Path != "catalog.yaml" || !cfg.Catalog.Watch {
		t.Fatalf("catalog unexpected: %+v", cfg.Catalog)
	}
	if got := cfg.OAuth["google"]; got.ClientID != "gid" || got.TokenURL == "" {
		t.Fatalf("google oauth unexpected: %+v", got)
	}
	if got := cfg.OAuth["github-app"]; got.ClientSecret != "hsecret" {
		t.Fatalf("github-app oauth unexpected: %+v", got)
	}
	if cfg.RateRPS != 5.0 {
		t.Fatalf("rate rps should fall back to default, got %v", cfg.RateRPS)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if cfg.OTEL.Protocol != "http" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty port", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"db path", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"db driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres dsn", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"queue backend", map[string]string{"QUEUE_BACKEND": "sqs"}, "QUEUE_BACKEND"},
		{"concurrency", map[string]string{"WORKER_CONCURRENCY": "0"}, "WORKER_CONCURRENCY"},
		{"attempts", map[string]string{"QUEUE_MAX_ATTEMPTS": "0"}, "QUEUE_MAX_ATTEMPTS"},
		{"backoff", map[string]string{"QUEUE_BACKOFF_INITIAL": "10m", "QUEUE_BACKOFF_MAX": "1m"}, "QUEUE_BACKOFF_INITIAL"},
		{"lease", map[string]string{"QUEUE_LEASE": "0s"}, "queue intervals"},
		{"retention", map[string]string{"QUEUE_FAILED_RETENTION": "0s"}, "retention"},
		{"tick", map[string]string{"SCHEDULER_TICK": "0s"}, "SCHEDULER_TICK"},
		{"scheduler concurrency", map[string]string{"SCHEDULER_CONCURRENCY": "0"}, "SCHEDULER_CONCURRENCY"},
		{"threshold", map[string]string{"HOOK_FAILURE_THRESHOLD": "0"}, "HOOK_FAILURE_THRESHOLD"},
		{"capability timeout", map[string]string{"CAPABILITY_TIMEOUT": "0s"}, "CAPABILITY_TIMEOUT"},
		{"webhook body", map[string]string{"WEBHOOK_MAX_BODY": "0"}, "WEBHOOK_MAX_BODY"},
		{"webhook rate", map[string]string{"WEBHOOK_RATE_BURST": "0"}, "WEBHOOK_RATE"},
		{"rate rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel protocol", map[string]string{"OTEL_EXPORTER_OTLP_PROTOCOL": "thrift"}, "OTEL_EXPORTER_OTLP_PROTOCOL"},
		{"otel ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
		{"oauth incomplete", map[string]string{"OAUTH_SERVICES": "google"}, "OAUTH_GOOGLE_CLIENT_ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}
	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}
	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_normalizeBasePath_envName(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: %#v", got)
	}
	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q)=%q want %q", in, got, want)
		}
	}
	if envName("github-app") != "GITHUB_APP" {
		t.Fatalf("envName mismatch")
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_DRIVER", "QUEUE_BACKEND", "OAUTH_SERVICES", "LOG_LEVEL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
