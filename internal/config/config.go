// Package config defines the service configuration and its defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the top-level configuration.
type Config struct {
	API           APIConfig           `yaml:"api" mapstructure:"api"`
	Debug         DebugConfig         `yaml:"debug" mapstructure:"debug"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" mapstructure:"scheduler"`
	Closure       ClosureConfig       `yaml:"closure" mapstructure:"closure"`
	Distribution  DistributionConfig  `yaml:"distribution" mapstructure:"distribution"`
	StuckDetector StuckDetectorConfig `yaml:"stuck_detector" mapstructure:"stuck_detector"`
	Kafka         KafkaConfig         `yaml:"kafka" mapstructure:"kafka"`
	Renderer      RendererConfig      `yaml:"renderer" mapstructure:"renderer"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" mapstructure:"telemetry"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the HTTP polling surface.
type APIConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            string        `yaml:"port" mapstructure:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DebugConfig configures the pprof and statsviz listener. An empty host
// disables it.
type DebugConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
}

// MetricsConfig configures the Prometheus listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DatabaseConfig selects the store backend. An empty URL runs the service on
// the in-memory stores.
type DatabaseConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=1,gtefield=MinConns"`
	MigrationsDir string `yaml:"migrations_dir" mapstructure:"migrations_dir"`
}

// SchedulerConfig tunes batch execution.
type SchedulerConfig struct {
	WorkerCount          int           `yaml:"worker_count" mapstructure:"worker_count" validate:"gte=1,lte=256"`
	StorageRetryAttempts int           `yaml:"storage_retry_attempts" mapstructure:"storage_retry_attempts" validate:"gte=0"`
	StorageRetryInterval time.Duration `yaml:"storage_retry_interval" mapstructure:"storage_retry_interval" validate:"gte=0"`
	RenderTimeout        time.Duration `yaml:"render_timeout" mapstructure:"render_timeout" validate:"gte=0"`
}

// ClosureConfig holds the term closure policy.
type ClosureConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0,lte=1"`
}

// DistributionConfig paces and addresses notification sends.
type DistributionConfig struct {
	RatePerSecond       float64 `yaml:"rate_per_second" mapstructure:"rate_per_second" validate:"gt=0"`
	Burst               int     `yaml:"burst" mapstructure:"burst" validate:"gte=1"`
	ManagementRecipient string  `yaml:"management_recipient" mapstructure:"management_recipient" validate:"omitempty,email"`
	DownloadBaseURL     string  `yaml:"download_base_url" mapstructure:"download_base_url" validate:"omitempty,url"`
}

// StuckDetectorConfig controls stalled batch detection.
type StuckDetectorConfig struct {
	Interval  time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
	Threshold time.Duration `yaml:"threshold" mapstructure:"threshold" validate:"gt=0"`
}

// KafkaConfig configures the event and notification transport. With no
// brokers, events stay in process and notifications are logged.
type KafkaConfig struct {
	Brokers            []string      `yaml:"brokers" mapstructure:"brokers"`
	ClientID           string        `yaml:"client_id" mapstructure:"client_id"`
	EventsTopic        string        `yaml:"events_topic" mapstructure:"events_topic" validate:"required_with=Brokers"`
	NotificationsTopic string        `yaml:"notifications_topic" mapstructure:"notifications_topic" validate:"required_with=Brokers"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gte=0"`
}

// RendererConfig configures the artifact renderer.
type RendererConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	ServiceName      string  `yaml:"service_name" mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string  `yaml:"exporter_endpoint" mapstructure:"exporter_endpoint"`
	Probability      float64 `yaml:"probability" mapstructure:"probability" validate:"gte=0,lte=1"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// Default returns a configuration that runs a single node on in-memory
// stores.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Debug:   DebugConfig{Host: "0.0.0.0:8090"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MinConns:      1,
			MaxConns:      10,
			MigrationsDir: "db/migrations",
		},
		Scheduler: SchedulerConfig{
			WorkerCount:          4,
			StorageRetryAttempts: 3,
			StorageRetryInterval: 200 * time.Millisecond,
		},
		Closure: ClosureConfig{FailureThreshold: 0.10},
		Distribution: DistributionConfig{
			RatePerSecond: 20,
			Burst:         5,
		},
		StuckDetector: StuckDetectorConfig{
			Interval:  time.Minute,
			Threshold: 10 * time.Minute,
		},
		Kafka: KafkaConfig{
			ClientID:           "term-closure",
			EventsTopic:        "term-closure.events",
			NotificationsTopic: "term-closure.notifications",
			ConnectTimeout:     2 * time.Minute,
		},
		Renderer: RendererConfig{OutputDir: "reports"},
		Telemetry: TelemetryConfig{
			ServiceName: "term-closure",
			Probability: 0.05,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
