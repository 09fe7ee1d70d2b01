// Package config loads process configuration from environment variables
// with sensible defaults: rate-limit tuning, probe timeouts, signing-key
// and metrics-token indirection, and the export output knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the sabt-export-core process configuration.
type Config struct {
	Port     string
	LogLevel string

	// Namespace prefixes every key-value store key (rate-limit buckets,
	// idempotency records, export job records).
	Namespace string

	DatabaseURL string
	RedisURL    string // empty selects the in-memory kv.Store

	// MetricsToken guards GET /metrics. The env var name itself is
	// indirected through MetricsTokenVar so an operator can point it at a
	// different secret-manager-injected name.
	MetricsToken    string
	MetricsTokenVar string

	// SigningKeySetPath points at the on-disk key set file pkg/signing
	// loads/rotates. SigningKeySetVar indirects the env var name the same
	// way MetricsTokenVar does.
	SigningKeySetPath string
	SigningKeySetVar  string

	RateLimitRequests int
	RateLimitWindow    time.Duration
	RateLimitPenalty   int

	HealthTimeout    time.Duration
	ReadinessTimeout time.Duration

	ExportOutputDir string
	Timezone        string // IANA name; defaults to Asia/Tehran

	// ExportS3Bucket optionally enables the S3 mirror publisher. Empty
	// disables it; the local atomic finalize remains the sole source of
	// truth regardless.
	ExportS3Bucket string
	ExportS3Prefix string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvSeconds(key string, fallback time.Duration) time.Duration {
	n := getenvInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Load reads Config from the environment, applying defaults wherever a
// variable is unset.
func Load() *Config {
	metricsTokenVar := getenv("METRICS_TOKEN_VAR", "METRICS_TOKEN")
	signingKeyVar := getenv("SIGNING_KEYSET_VAR", "SIGNING_KEYSET_PATH")

	return &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		Namespace: getenv("SABT_NAMESPACE", "default"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", ""),

		MetricsTokenVar: metricsTokenVar,
		MetricsToken:    os.Getenv(metricsTokenVar),

		SigningKeySetVar:  signingKeyVar,
		SigningKeySetPath: getenv(signingKeyVar, "signing_keys.yaml"),

		RateLimitRequests: getenvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getenvSeconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		RateLimitPenalty:  getenvInt("RATE_LIMIT_PENALTY_SECONDS", 30),

		HealthTimeout:    getenvSeconds("HEALTH_TIMEOUT_SECONDS", 2*time.Second),
		ReadinessTimeout: getenvSeconds("READINESS_TIMEOUT_SECONDS", 2*time.Second),

		ExportOutputDir: getenv("EXPORT_OUTPUT_DIR", "./exports"),
		Timezone:        getenv("SABT_TIMEZONE", "Asia/Tehran"),

		ExportS3Bucket: getenv("EXPORT_S3_BUCKET", ""),
		ExportS3Prefix: getenv("EXPORT_S3_PREFIX", ""),
	}
}
