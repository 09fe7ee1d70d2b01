package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sabt-export/core/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, v := range []string{
		"PORT", "LOG_LEVEL", "SABT_NAMESPACE", "REDIS_URL",
		"METRICS_TOKEN", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS",
		"RATE_LIMIT_PENALTY_SECONDS", "SABT_TIMEZONE",
	} {
		t.Setenv(v, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 30, cfg.RateLimitPenalty)
	assert.Equal(t, "Asia/Tehran", cfg.Timezone)
	assert.Empty(t, cfg.ExportS3Bucket)
	assert.Empty(t, cfg.ExportS3Prefix)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SABT_NAMESPACE", "staging")
	t.Setenv("RATE_LIMIT_REQUESTS", "2")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("RATE_LIMIT_PENALTY_SECONDS", "120")
	t.Setenv("METRICS_TOKEN", "tok-123")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Namespace)
	assert.Equal(t, 2, cfg.RateLimitRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 120, cfg.RateLimitPenalty)
	assert.Equal(t, "tok-123", cfg.MetricsToken)
}

func TestLoad_IndirectedMetricsTokenVar(t *testing.T) {
	t.Setenv("METRICS_TOKEN_VAR", "CUSTOM_METRICS_SECRET")
	t.Setenv("CUSTOM_METRICS_SECRET", "indirected-value")

	cfg := config.Load()

	assert.Equal(t, "CUSTOM_METRICS_SECRET", cfg.MetricsTokenVar)
	assert.Equal(t, "indirected-value", cfg.MetricsToken)
}

func TestLoad_ExportS3(t *testing.T) {
	t.Setenv("EXPORT_S3_BUCKET", "sabt-exports")
	t.Setenv("EXPORT_S3_PREFIX", "snapshots/")

	cfg := config.Load()

	assert.Equal(t, "sabt-exports", cfg.ExportS3Bucket)
	assert.Equal(t, "snapshots/", cfg.ExportS3Prefix)
}
