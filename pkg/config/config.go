// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Bind addresses.
	HTTPAddr string
	GRPCPort int

	// Trust root and audit trail.
	KeystorePath string
	AuditLogDir  string

	// Plugin engine.
	PluginConfigPath string
	MarketplaceRoot  string

	// Telemetry.
	TelemetryEnabled bool
	PrometheusHost   string
	PrometheusPort   int
	OTLPEndpoint     string
	ServiceName      string
	LogFormat        string // "text" or "json"

	// Task manager bounds.
	TaskCapacity    int
	TaskRetention   time.Duration
	TaskTimeout     time.Duration
	StreamPollEvery time.Duration

	// REST rate limiting.
	RateLimitRPS   int
	RateLimitBurst int

	// Analytics.
	AnalyticsSourcesDir string
	AnalyticsRetention  int
	CoverageThreshold   float64
	HotspotSettingsPath string

	// Drift.
	ToolchainManifest string
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for local development.
func Load() *Config {
	return &Config{
		HTTPAddr: getenv("HEPHAESTUS_HTTP_ADDR", ":8080"),
		GRPCPort: getint("HEPHAESTUS_GRPC_PORT", 50051),

		KeystorePath: getenv("HEPHAESTUS_SERVICE_ACCOUNT_KEYS_PATH", ".hephaestus/service-accounts.json"),
		AuditLogDir:  getenv("HEPHAESTUS_AUDIT_LOG_DIR", ".hephaestus/audit"),

		PluginConfigPath: getenv("HEPHAESTUS_PLUGIN_CONFIG", ".hephaestus/plugins.toml"),
		MarketplaceRoot:  getenv("HEPHAESTUS_MARKETPLACE_ROOT", ".hephaestus/marketplace"),

		TelemetryEnabled: getbool("HEPHAESTUS_TELEMETRY_ENABLED", false),
		PrometheusHost:   getenv("HEPHAESTUS_PROMETHEUS_HOST", "127.0.0.1"),
		PrometheusPort:   getint("HEPHAESTUS_PROMETHEUS_PORT", 9464),
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      getenv("OTEL_SERVICE_NAME", "hephaestus"),
		LogFormat:        getenv("HEPHAESTUS_LOG_FORMAT", "text"),

		TaskCapacity:    getint("HEPHAESTUS_TASK_CAPACITY", 100),
		TaskRetention:   getduration("HEPHAESTUS_TASK_RETENTION", time.Hour),
		TaskTimeout:     getduration("HEPHAESTUS_TASK_TIMEOUT", 5*time.Minute),
		StreamPollEvery: getduration("HEPHAESTUS_STREAM_POLL_INTERVAL", time.Second),

		RateLimitRPS:   getint("HEPHAESTUS_RATE_LIMIT_RPS", 50),
		RateLimitBurst: getint("HEPHAESTUS_RATE_LIMIT_BURST", 100),

		AnalyticsSourcesDir: getenv("HEPHAESTUS_ANALYTICS_DIR", ""),
		AnalyticsRetention:  getint("HEPHAESTUS_ANALYTICS_RETENTION", 1000),
		CoverageThreshold:   getfloat("HEPHAESTUS_COVERAGE_THRESHOLD", 0.8),
		HotspotSettingsPath: getenv("HEPHAESTUS_HOTSPOT_SETTINGS", ".hephaestus/hotspots.json"),

		ToolchainManifest: getenv("HEPHAESTUS_TOOLCHAIN_MANIFEST", ".hephaestus/toolchain.yaml"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true" || v == "yes"
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
