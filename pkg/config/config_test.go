package config_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/appdev/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: the CLI must start with safe defaults on a fresh machine.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "1.4.0", cfg.ToolchainVersion)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2.0, cfg.RebuildRate)
	assert.Equal(t, "abort", cfg.FailurePolicy)
	assert.Contains(t, cfg.CacheDSN, "cache.db")
	assert.NotEmpty(t, cfg.ToolchainDir)
	assert.False(t, cfg.TelemetryEnabled)
	assert.False(t, cfg.AllowDynamicConfigs)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: users control the CLI via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("APPDEV_CACHE_DSN", "redis://localhost:6379/0")
	t.Setenv("APPDEV_POLL_INTERVAL", "2s")
	t.Setenv("APPDEV_TELEMETRY", "true")
	t.Setenv("APPDEV_ALLOW_DYNAMIC_CONFIGS", "true")
	t.Setenv("APPDEV_FAILURE_POLICY", "Isolate")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.CacheDSN)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.TelemetryEnabled)
	assert.True(t, cfg.AllowDynamicConfigs)
	assert.Equal(t, "isolate", cfg.FailurePolicy)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.LoadFrom(map[string]string{"APPDEV_POLL_INTERVAL": "soon"})
	assert.ErrorContains(t, err, "parse env")

	_, err = config.LoadFrom(map[string]string{"APPDEV_FAILURE_POLICY": "retry"})
	assert.ErrorContains(t, err, "unknown policy")

	_, err = config.LoadFrom(map[string]string{"APPDEV_REBUILD_RATE": "0"})
	assert.ErrorContains(t, err, "must be positive")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	config.NewLogger("debug", "text", &buf).Debug("details")
	assert.Contains(t, buf.String(), "msg=details")
}
