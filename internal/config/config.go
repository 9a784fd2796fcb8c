// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Collector CollectorConfig `mapstructure:"collector"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	PageSpeed PageSpeedConfig `mapstructure:"pagespeed"`
	Insights  InsightsConfig  `mapstructure:"insights"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	RequestTimeout  int      `mapstructure:"request_timeout_seconds"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout_seconds"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory record store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig selects and parameterizes the snapshot blob store.
type StorageConfig struct {
	// Backend is one of "memory", "local", "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// CollectorConfig governs content collection.
type CollectorConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	ProbeTimeoutSec     int    `mapstructure:"probe_timeout_seconds"`
	NavTimeoutSec       int    `mapstructure:"nav_timeout_seconds"`
	HeadlessEnabled     bool   `mapstructure:"headless_enabled"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
}

// RetryConfig is the shared shape for rate-limit retry knobs.
type RetryConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	InitialDelayMs int `mapstructure:"initial_delay_ms"`
}

// DetectorConfig configures the technology fingerprinting client.
type DetectorConfig struct {
	BaseURL    string      `mapstructure:"base_url"`
	APIKey     string      `mapstructure:"api_key"`
	TimeoutSec int         `mapstructure:"timeout_seconds"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// PageSpeedConfig configures the performance scoring client.
type PageSpeedConfig struct {
	BaseURL    string      `mapstructure:"base_url"`
	APIKey     string      `mapstructure:"api_key"`
	Strategy   string      `mapstructure:"strategy"`
	TimeoutSec int         `mapstructure:"timeout_seconds"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// InsightsConfig configures the AI report generator.
type InsightsConfig struct {
	APIKey string      `mapstructure:"api_key"`
	Model  string      `mapstructure:"model"`
	Retry  RetryConfig `mapstructure:"retry"`
}

// PipelineConfig bounds the stages and the whole run.
type PipelineConfig struct {
	ContentTimeoutSec      int `mapstructure:"content_timeout_seconds"`
	TechnologiesTimeoutSec int `mapstructure:"technologies_timeout_seconds"`
	PerformanceTimeoutSec  int `mapstructure:"performance_timeout_seconds"`
	InsightsTimeoutSec     int `mapstructure:"insights_timeout_seconds"`
	TotalBudgetSec         int `mapstructure:"total_budget_seconds"`
	RunTimeoutSec          int `mapstructure:"run_timeout_seconds"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("collector.user_agent", "siteaudit-bot/0.1")
	v.SetDefault("collector.probe_timeout_seconds", 15)
	v.SetDefault("collector.nav_timeout_seconds", 25)
	v.SetDefault("collector.headless_enabled", false)
	v.SetDefault("collector.headless_max_parallel", 1)
	v.SetDefault("detector.base_url", "https://api.builtwith.com/v21/api.json")
	v.SetDefault("detector.timeout_seconds", 20)
	v.SetDefault("detector.retry.max_attempts", 2)
	v.SetDefault("detector.retry.initial_delay_ms", 500)
	v.SetDefault("pagespeed.base_url", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("pagespeed.strategy", "mobile")
	v.SetDefault("pagespeed.timeout_seconds", 60)
	v.SetDefault("pagespeed.retry.max_attempts", 2)
	v.SetDefault("pagespeed.retry.initial_delay_ms", 1000)
	v.SetDefault("insights.retry.max_attempts", 2)
	v.SetDefault("insights.retry.initial_delay_ms", 1000)
	v.SetDefault("pipeline.content_timeout_seconds", 45)
	v.SetDefault("pipeline.technologies_timeout_seconds", 20)
	v.SetDefault("pipeline.performance_timeout_seconds", 60)
	v.SetDefault("pipeline.insights_timeout_seconds", 45)
	v.SetDefault("pipeline.total_budget_seconds", 90)
	v.SetDefault("pipeline.run_timeout_seconds", 180)
}

// Validate enforces required values before any run is accepted. Credential
// problems should surface at startup, not halfway through an analysis.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Detector.APIKey == "" {
		return fmt.Errorf("detector.api_key must be set")
	}
	if c.PageSpeed.APIKey == "" {
		return fmt.Errorf("pagespeed.api_key must be set")
	}
	if c.Insights.APIKey == "" {
		return fmt.Errorf("insights.api_key must be set")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	if c.Pipeline.TotalBudgetSec <= 0 {
		return fmt.Errorf("pipeline.total_budget_seconds must be > 0")
	}
	return nil
}

// RequestTimeoutDuration is the per-request HTTP handler bound.
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ShutdownTimeoutDuration bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
