// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// reminder store, the notification channels (email, SMS), the dispatch
// schedule, the run claim, the ops HTTP server, logging and observability.
//
// A Config value is built once at process start and passed explicitly to the
// constructors that need it; business logic never reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DISPLAY_TIMEZONE and profile zones must resolve on slim images
)

// DBConfig selects and locates the reminder store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// EmailConfig configures the email channel.
type EmailConfig struct {
	Backend  string        // EMAIL_BACKEND: smtp|log
	From     string        // DEFAULT_FROM_EMAIL
	Host     string        // SMTP_HOST
	Port     int           // SMTP_PORT
	Username string        // SMTP_USERNAME
	Password string        // SMTP_PASSWORD
	TLS      string        // SMTP_TLS: mandatory|opportunistic|none
	Timeout  time.Duration // EMAIL_TIMEOUT
}

// SMSConfig configures the SMS channel. The channel is enabled only when the
// account SID, auth token and from-number are all present.
type SMSConfig struct {
	AccountSID string        // TWILIO_ACCOUNT_SID
	AuthToken  string        // TWILIO_AUTH_TOKEN
	FromNumber string        // TWILIO_FROM_NUMBER
	Timeout    time.Duration // SMS_TIMEOUT
	RatePerSec float64       // SMS_RATE_PER_SEC (0 disables pacing)
}

// Enabled reports whether every SMS provider credential is configured.
func (s SMSConfig) Enabled() bool {
	return strings.TrimSpace(s.AccountSID) != "" &&
		strings.TrimSpace(s.AuthToken) != "" &&
		strings.TrimSpace(s.FromNumber) != ""
}

// DispatchConfig configures the due-reminder sweep.
type DispatchConfig struct {
	AppName         string        // APP_NAME, used in subject/body
	DisplayTimezone string        // DISPLAY_TIMEZONE (IANA), fallback for owners without one
	Schedule        string        // DISPATCH_SCHEDULE (cron expression or @every)
	BatchLimit      int           // DISPATCH_BATCH_LIMIT (0 = unbounded)
	RunTimeout      time.Duration // RUN_TIMEOUT
	PushgatewayURL  string        // PUSHGATEWAY_URL (optional, one-shot runs)
}

// ClaimConfig configures the run claim that prevents overlapping sweeps.
type ClaimConfig struct {
	RedisAddr     string        // REDIS_ADDR (empty = in-process claim)
	RedisPassword string        // REDIS_PASSWORD
	RedisDB       int           // REDIS_DB
	Key           string        // CLAIM_KEY
	TTL           time.Duration // CLAIM_TTL
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
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "medreminder")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops server (serve mode)
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Rate limiting of the manual trigger endpoint
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	DB       DBConfig
	Email    EmailConfig
	SMS      SMSConfig
	Dispatch DispatchConfig
	Claim    ClaimConfig
	Security SecurityConfig
	OTEL     OTELConfig
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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		RateRPS:   getfloat("RATE_RPS", 0.2),
		RateBurst: getint("RATE_BURST", 2),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "medreminder.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Email: EmailConfig{
			Backend:  strings.ToLower(getenv("EMAIL_BACKEND", "smtp")),
			From:     getenv("DEFAULT_FROM_EMAIL", "no-reply@localhost"),
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     getint("SMTP_PORT", 25),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			TLS:      strings.ToLower(getenv("SMTP_TLS", "opportunistic")),
			Timeout:  getdur("EMAIL_TIMEOUT", 15*time.Second),
		},

		SMS: SMSConfig{
			AccountSID: getenv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getenv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getenv("TWILIO_FROM_NUMBER", ""),
			Timeout:    getdur("SMS_TIMEOUT", 10*time.Second),
			RatePerSec: getfloat("SMS_RATE_PER_SEC", 1.0),
		},

		Dispatch: DispatchConfig{
			AppName:         getenv("APP_NAME", "MedCia"),
			DisplayTimezone: getenv("DISPLAY_TIMEZONE", "UTC"),
			Schedule:        getenv("DISPATCH_SCHEDULE", "@every 1m"),
			BatchLimit:      getint("DISPATCH_BATCH_LIMIT", 0),
			RunTimeout:      getdur("RUN_TIMEOUT", 5*time.Minute),
			PushgatewayURL:  getenv("PUSHGATEWAY_URL", ""),
		},

		Claim: ClaimConfig{
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			Key:           getenv("CLAIM_KEY", "medreminder:dispatch:claim"),
			TTL:           getdur("CLAIM_TTL", 10*time.Minute),
		},

		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "medreminder"),
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
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Email.Backend == "console" {
		cfg.Email.Backend = "log"
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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.Email.Backend {
	case "smtp", "log":
	default:
		return cfg, errors.New("EMAIL_BACKEND must be one of: smtp, log")
	}
	switch cfg.Email.TLS {
	case "mandatory", "opportunistic", "none":
	default:
		return cfg, errors.New("SMTP_TLS must be one of: mandatory, opportunistic, none")
	}
	if strings.TrimSpace(cfg.Email.From) == "" {
		return cfg, errors.New("DEFAULT_FROM_EMAIL must not be empty")
	}
	if cfg.Email.Port <= 0 || cfg.Email.Port > 65535 {
		return cfg, errors.New("SMTP_PORT must be in 1..65535")
	}
	if cfg.Email.Timeout <= 0 || cfg.SMS.Timeout <= 0 {
		return cfg, errors.New("EMAIL_TIMEOUT and SMS_TIMEOUT must be positive durations")
	}
	if cfg.SMS.RatePerSec < 0 {
		return cfg, errors.New("SMS_RATE_PER_SEC must be >= 0")
	}
	if _, err := time.LoadLocation(cfg.Dispatch.DisplayTimezone); err != nil {
		return cfg, errors.New("DISPLAY_TIMEZONE must be a valid IANA time zone")
	}
	if strings.TrimSpace(cfg.Dispatch.Schedule) == "" {
		return cfg, errors.New("DISPATCH_SCHEDULE must not be empty")
	}
	if cfg.Dispatch.BatchLimit < 0 {
		return cfg, errors.New("DISPATCH_BATCH_LIMIT must be >= 0")
	}
	if cfg.Claim.TTL <= 0 {
		return cfg, errors.New("CLAIM_TTL must be > 0")
	}
	if err := CheckRunTimeout(cfg.Dispatch.RunTimeout, cfg.Claim); err != nil {
		return cfg, err
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
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

// CheckRunTimeout validates a sweep bound. A Redis claim expires after its
// TTL, so a sweep must end before it or another process could start one.
func CheckRunTimeout(timeout time.Duration, claim ClaimConfig) error {
	if timeout <= 0 {
		return errors.New("RUN_TIMEOUT must be > 0")
	}
	if claim.RedisAddr != "" && timeout >= claim.TTL {
		return fmt.Errorf("RUN_TIMEOUT (%s) must be shorter than CLAIM_TTL (%s) when REDIS_ADDR is set", timeout, claim.TTL)
	}
	return nil
}

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
