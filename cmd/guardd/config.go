package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	guard "github.com/giantswarm/ingress-guard"
	"github.com/giantswarm/ingress-guard/instrumentation"
)

// Store backends selectable with GUARD_STORE
const (
	storeMemory = "memory"
	storeValkey = "valkey"
	storeRedis  = "redis"
)

type config struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	Store         string
	StoreAddr     string
	StorePassword string
	KeyPrefix     string

	MetricsExporter string
	LogClientIPs    bool

	Guard guard.Config
}

// loadConfig reads GUARD_* variables, loading a .env file first when present.
func loadConfig() (config, error) {
	_ = godotenv.Load()
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) (config, error) {
	env := envReader{getenv: getenv}

	cfg := config{
		Addr:            env.str("GUARD_ADDR", ":8080"),
		Store:           strings.ToLower(env.str("GUARD_STORE", storeMemory)),
		StorePassword:   env.str("GUARD_STORE_PASSWORD", ""),
		KeyPrefix:       env.str("GUARD_KEY_PREFIX", ""),
		MetricsExporter: strings.ToLower(env.str("GUARD_METRICS_EXPORTER", instrumentation.ExporterPrometheus)),
		LogClientIPs:    env.asBool("GUARD_LOG_CLIENT_IPS", false),
		ShutdownTimeout: env.asDuration("GUARD_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(env.str("GUARD_LOG_LEVEL", "info"))); err != nil {
		env.fail("GUARD_LOG_LEVEL", err)
	}

	switch cfg.Store {
	case storeMemory:
	case storeValkey:
		cfg.StoreAddr = env.str("GUARD_VALKEY_ADDR", "localhost:6379")
	case storeRedis:
		cfg.StoreAddr = env.str("GUARD_REDIS_ADDR", "localhost:6379")
	default:
		return config{}, fmt.Errorf("unsupported GUARD_STORE %q (want memory, valkey or redis)", cfg.Store)
	}

	switch cfg.MetricsExporter {
	case instrumentation.ExporterNone, instrumentation.ExporterPrometheus:
	default:
		return config{}, fmt.Errorf("unsupported GUARD_METRICS_EXPORTER %q (want none or prometheus)", cfg.MetricsExporter)
	}

	cfg.Guard = guard.Config{
		RateLimit: guard.RateLimitConfig{
			QuotaLimit:      env.asInt("GUARD_QUOTA_LIMIT", 0),
			QuotaWindow:     env.asDuration("GUARD_QUOTA_WINDOW", 0),
			SweepInterval:   env.asDuration("GUARD_SWEEP_INTERVAL", 0),
			BurstRate:       env.asFloat("GUARD_BURST_RATE", 0),
			Burst:           env.asInt("GUARD_BURST", 0),
			BurstMaxEntries: env.asInt("GUARD_BURST_MAX_ENTRIES", 0),
		},
		Identity: guard.IdentityConfig{
			TrustRemoteAddr: env.asBool("GUARD_TRUST_REMOTE_ADDR", false),
		},
		Upload: guard.UploadConfig{
			MaxFileBytes:    int64(env.asInt("GUARD_MAX_FILE_BYTES", 0)),
			MaxRequestBytes: int64(env.asInt("GUARD_MAX_REQUEST_BYTES", 0)),
		},
		Security: guard.SecurityConfig{
			EnableAuditLogging: env.asBool("GUARD_AUDIT", true),
			EnableHSTS:         env.asBool("GUARD_HSTS", false),
		},
	}
	if key := env.str("GUARD_FINGERPRINT_KEY", ""); key != "" {
		cfg.Guard.Identity.FingerprintKey = []byte(key)
	}

	if env.err != nil {
		return config{}, env.err
	}
	return cfg, nil
}

// envReader parses variables and keeps the first error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) str(key, fallback string) string {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func (e *envReader) asInt(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return v
}

func (e *envReader) asFloat(key string, fallback float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return v
}

func (e *envReader) asBool(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return v
}

func (e *envReader) asDuration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return v
}
