package internal

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every key the config reads, then applies overrides.
func setEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "LOG_LEVEL", "DATABASE_URL", "STORE_BACKEND", "REDIS_URL",
		"QUOTA_TIMEZONE", "QUOTA_CATALOG_PATH", "BREAKER_MAX_FAILURES", "BREAKER_OPEN_TIMEOUT",
		"WORKER_ENABLED", "WORKER_CONCURRENCY", "WORKER_POLL_INTERVAL", "WORKER_JOB_TIMEOUT",
		"SWEEP_INTERVAL", "SWEEP_BATCH_SIZE", "EXPORT_INTERVAL",
		"STORAGE_PROVIDER", "LOCAL_STORAGE_PATH", "LOCAL_STORAGE_URL",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_PUBLIC_URL", "R2_ENDPOINT",
		"METRICS_USERNAME", "METRICS_PASSWORD", "API_RATE_LIMIT", "API_RATE_WINDOW",
	} {
		t.Setenv(key, "")
	}
	for k, v := range overrides {
		t.Setenv(k, v)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "postgres://localhost/shoplocal"})

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, time.UTC, cfg.QuotaTimezone)
	assert.Equal(t, 5, cfg.BreakerMaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, 120, cfg.APIRateLimit)
	assert.True(t, cfg.WorkerEnabled)
	assert.False(t, cfg.IsProduction())
}

func TestNewConfig_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"ENV":              "production",
		"STORE_BACKEND":    "memory",
		"QUOTA_TIMEZONE":   "America/Chicago",
		"SWEEP_INTERVAL":   "0s",
		"WORKER_ENABLED":   "false",
		"STORAGE_PROVIDER": "r2",
		"R2_ENDPOINT":      "http://minio:9000",
		"R2_ACCESS_KEY_ID": "key", "R2_SECRET_ACCESS_KEY": "secret", "R2_BUCKET_NAME": "exports",
		// Unparseable values fall back to defaults.
		"PORT": "not-a-number",
	})

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Empty(t, cfg.DatabaseUrl)
	assert.Equal(t, "America/Chicago", cfg.QuotaTimezone.String())
	assert.Zero(t, cfg.SweepInterval)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://minio:9000", cfg.R2Endpoint)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing database", map[string]string{}, "DATABASE_URL"},
		{"redis without url", map[string]string{"STORE_BACKEND": "redis", "DATABASE_URL": "postgres://x"}, "REDIS_URL"},
		{"redis without database", map[string]string{"STORE_BACKEND": "redis", "REDIS_URL": "redis://x"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "sqlite"}, "STORE_BACKEND"},
		{"bad timezone", map[string]string{"STORE_BACKEND": "memory", "QUOTA_TIMEZONE": "Mars/Olympus"}, "QUOTA_TIMEZONE"},
		{"zero breaker", map[string]string{"STORE_BACKEND": "memory", "BREAKER_MAX_FAILURES": "0"}, "BREAKER_MAX_FAILURES"},
		{"zero batch", map[string]string{"STORE_BACKEND": "memory", "SWEEP_BATCH_SIZE": "0"}, "SWEEP_BATCH_SIZE"},
		{"r2 incomplete", map[string]string{"STORE_BACKEND": "memory", "STORAGE_PROVIDER": "r2", "R2_ACCOUNT_ID": "acct"}, "R2_ACCESS_KEY_ID"},
		{"unknown storage", map[string]string{"STORE_BACKEND": "memory", "STORAGE_PROVIDER": "gcs"}, "STORAGE_PROVIDER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "production", "warn").Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "production", "info").Info("shown", "user_id", "u1")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"service":"shoplocal"`)

	buf.Reset()
	NewLogger(&buf, "development", "debug").Debug("dev")
	assert.Contains(t, buf.String(), "service=shoplocal")

	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel(" WARNING "))
}
