// Package config handles configuration loading from environment
// variables and an optional YAML config file. Environment variables
// take precedence over file values.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the API
	HTTPPort int

	// Shared secret for the internal telemetry ingest endpoint
	IngestToken string

	// Maximum number of tenants processed concurrently per scheduled run
	TenantConcurrency int

	// Cron expressions for the scheduled jobs
	WorkloadAnalysisSchedule string
	PatternDetectionSchedule string
	OptimizationSchedule     string
	HealthCheckSchedule      string

	// Per-stage timeouts for the learning cycle
	AnalysisTimeout     time.Duration
	DetectionTimeout    time.Duration
	OptimizationTimeout time.Duration
	AuditTimeout        time.Duration

	// OTLP trace collector endpoint
	OTELEndpoint string
}

// Load reads configuration from the optional config file and the
// environment. An empty configPath skips the file entirely.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 6161)
	v.SetDefault("tenant_concurrency", 3)
	v.SetDefault("workload_analysis_schedule", "0 */2 * * *")
	v.SetDefault("pattern_detection_schedule", "0 6 * * *")
	v.SetDefault("optimization_schedule", "0 7 * * *")
	v.SetDefault("health_check_schedule", "0 * * * *")
	v.SetDefault("analysis_timeout", "30s")
	v.SetDefault("detection_timeout", "30s")
	v.SetDefault("optimization_timeout", "60s")
	v.SetDefault("audit_timeout", "10s")
	v.SetDefault("otel_endpoint", "localhost:4317")

	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("http_port", "PORT")
	v.BindEnv("ingest_token", "INGEST_TOKEN")
	v.BindEnv("tenant_concurrency", "TENANT_CONCURRENCY")
	v.BindEnv("workload_analysis_schedule", "WORKLOAD_ANALYSIS_SCHEDULE")
	v.BindEnv("pattern_detection_schedule", "PATTERN_DETECTION_SCHEDULE")
	v.BindEnv("optimization_schedule", "OPTIMIZATION_SCHEDULE")
	v.BindEnv("health_check_schedule", "HEALTH_CHECK_SCHEDULE")
	v.BindEnv("analysis_timeout", "ANALYSIS_TIMEOUT")
	v.BindEnv("detection_timeout", "DETECTION_TIMEOUT")
	v.BindEnv("optimization_timeout", "OPTIMIZATION_TIMEOUT")
	v.BindEnv("audit_timeout", "AUDIT_TIMEOUT")
	v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		DatabaseURL:              v.GetString("database_url"),
		HTTPPort:                 v.GetInt("http_port"),
		IngestToken:              v.GetString("ingest_token"),
		TenantConcurrency:        v.GetInt("tenant_concurrency"),
		WorkloadAnalysisSchedule: v.GetString("workload_analysis_schedule"),
		PatternDetectionSchedule: v.GetString("pattern_detection_schedule"),
		OptimizationSchedule:     v.GetString("optimization_schedule"),
		HealthCheckSchedule:      v.GetString("health_check_schedule"),
		AnalysisTimeout:          v.GetDuration("analysis_timeout"),
		DetectionTimeout:         v.GetDuration("detection_timeout"),
		OptimizationTimeout:      v.GetDuration("optimization_timeout"),
		AuditTimeout:             v.GetDuration("audit_timeout"),
		OTELEndpoint:             v.GetString("otel_endpoint"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if cfg.TenantConcurrency < 1 {
		return nil, fmt.Errorf("tenant_concurrency must be at least 1")
	}

	return cfg, nil
}
