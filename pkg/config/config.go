package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level settings read from the environment.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"APPDEV_LOG_FORMAT" envDefault:"text"`

	APIURL string `env:"APPDEV_API_URL" envDefault:"https://partners.appdev.dev/api/graphql"`
	Token  string `env:"APPDEV_TOKEN"`

	// CacheDSN is a SQLite file path or a redis:// URL.
	CacheDSN string `env:"APPDEV_CACHE_DSN"`

	ToolchainDir     string `env:"APPDEV_TOOLCHAIN_DIR"`
	ToolchainVersion string `env:"APPDEV_TOOLCHAIN_VERSION" envDefault:"1.4.0"`
	ToolchainURL     string `env:"APPDEV_TOOLCHAIN_URL" envDefault:"https://downloads.appdev.dev/toolchain"`

	// CatalogDir holds extra specification YAML files.
	CatalogDir          string `env:"APPDEV_CATALOG_DIR"`
	AllowDynamicConfigs bool   `env:"APPDEV_ALLOW_DYNAMIC_CONFIGS"`

	OTLPEndpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TelemetryEnabled bool   `env:"APPDEV_TELEMETRY"`

	PollInterval  time.Duration `env:"APPDEV_POLL_INTERVAL" envDefault:"500ms"`
	RebuildRate   float64       `env:"APPDEV_REBUILD_RATE" envDefault:"2"`
	DevServerAddr string        `env:"APPDEV_DEV_SERVER_ADDR" envDefault:"127.0.0.1:3457"`
	FailurePolicy string        `env:"APPDEV_FAILURE_POLICY" envDefault:"abort"`
}

// Load loads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom loads configuration from the given variables only.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CacheDSN == "" || cfg.ToolchainDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		if cfg.CacheDSN == "" {
			cfg.CacheDSN = filepath.Join(base, "appdev", "cache.db")
		}
		if cfg.ToolchainDir == "" {
			cfg.ToolchainDir = filepath.Join(base, "appdev", "toolchain")
		}
	}
	switch strings.ToLower(cfg.FailurePolicy) {
	case "abort", "isolate":
		cfg.FailurePolicy = strings.ToLower(cfg.FailurePolicy)
	default:
		return nil, fmt.Errorf("APPDEV_FAILURE_POLICY: unknown policy %q (want abort or isolate)", cfg.FailurePolicy)
	}
	if cfg.RebuildRate <= 0 {
		return nil, fmt.Errorf("APPDEV_REBUILD_RATE must be positive, got %v", cfg.RebuildRate)
	}
	return &cfg, nil
}

// NewLogger builds a slog logger writing text or JSON records to w.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
