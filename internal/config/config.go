// Package config loads application settings from environment variables.
// Unset or empty variables take their defaults; malformed ones are reported
// together with every failed validation, so a bad deployment lists all of
// its problems in one error.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
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

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the OTLP gRPC collector
	Insecure    bool   // plaintext gRPC
	ServiceName string
	SampleRatio float64 // in [0,1]
}

// WalletConfig holds the global settings served before an admin has saved
// any (version 0).
type WalletConfig struct {
	DefaultCurrency          string // ISO 4217
	DefaultCommissionPercent decimal.Decimal
	DefaultConvenienceFee    decimal.Decimal
}

// RerouteConfig tunes candidate search and the per-prescription lock.
type RerouteConfig struct {
	LockTTL            time.Duration // Redis lease lifetime
	CandidateLimit     int
	CandidateMaxLimit  int
	GeoCellDegrees     float64
	IdempotencyPending time.Duration // how long an unfinished attempt blocks its key
}

// Config holds all configuration values for the application.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DBPath       string
	StoreBackend string // db|memory
	RedisAddress string // optional; enables the cluster-wide reroute lock

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	Wallet  WalletConfig
	Reroute RerouteConfig

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if it is invalid.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads, normalizes and validates the configuration.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DBPath:       e.str("DB_PATH", "app.db"),
		StoreBackend: strings.ToLower(e.str("STORE_BACKEND", "db")),
		RedisAddress: e.str("REDIS_ADDRESS", ""),

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		Wallet: WalletConfig{
			DefaultCurrency:          strings.ToUpper(e.str("WALLET_DEFAULT_CURRENCY", "LKR")),
			DefaultCommissionPercent: e.decimal("WALLET_DEFAULT_COMMISSION_PERCENT", decimal.NewFromInt(5)),
			DefaultConvenienceFee:    e.decimal("WALLET_DEFAULT_CONVENIENCE_FEE", decimal.Zero),
		},
		Reroute: RerouteConfig{
			LockTTL:            e.dur("REROUTE_LOCK_TTL", 30*time.Second),
			CandidateLimit:     e.int("CANDIDATE_DEFAULT_LIMIT", 20),
			CandidateMaxLimit:  e.int("CANDIDATE_MAX_LIMIT", 100),
			GeoCellDegrees:     e.float("GEO_CELL_DEGREES", 0.05),
			IdempotencyPending: e.dur("IDEMPOTENCY_PENDING_TIMEOUT", 2*time.Minute),
		},

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-pharmacy-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	if err := errors.Join(append(e.errs, cfg.validate()...)...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate returns one error per violated constraint.
func (c Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(c.StoreBackend == "db" || c.StoreBackend == "memory", "STORE_BACKEND must be one of: db, memory")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")

	w := c.Wallet
	check(len(w.DefaultCurrency) == 3, "WALLET_DEFAULT_CURRENCY must be a 3-letter ISO 4217 code")
	check(!w.DefaultCommissionPercent.IsNegative() && w.DefaultCommissionPercent.LessThanOrEqual(decimal.NewFromInt(100)),
		"WALLET_DEFAULT_COMMISSION_PERCENT must be in [0,100]")
	check(!w.DefaultConvenienceFee.IsNegative(), "WALLET_DEFAULT_CONVENIENCE_FEE must be >= 0")

	r := c.Reroute
	check(r.LockTTL > 0, "REROUTE_LOCK_TTL must be > 0")
	check(r.IdempotencyPending > 0, "IDEMPOTENCY_PENDING_TIMEOUT must be > 0")
	check(r.CandidateLimit >= 1 && r.CandidateLimit <= r.CandidateMaxLimit,
		"CANDIDATE_DEFAULT_LIMIT must be >= 1 and <= CANDIDATE_MAX_LIMIT")
	check(r.GeoCellDegrees > 0 && r.GeoCellDegrees <= 10 && !math.IsNaN(r.GeoCellDegrees),
		"GEO_CELL_DEGREES must be in (0,10]")

	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables and records the ones that fail to parse.
type env struct {
	errs []error
}

// lookup returns the trimmed value of k; empty counts as unset.
func (e *env) lookup(k string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(k))
	return v, v != ""
}

func (e *env) fail(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

func (e *env) decimal(k string, def decimal.Decimal) decimal.Decimal {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.fail(k, v, "decimal")
		return def
	}
	return d
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
