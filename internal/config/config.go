package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "tracing"

var validate = validator.New()

// Config holds all library configuration.
type Config struct {
	Daemon  DaemonConfig  `envconfig:"DAEMON"`
	Worker  WorkerConfig  `envconfig:"WORKER"`
	Memory  MemoryConfig  `envconfig:"TMD"`
	Limits  LimitsConfig  `envconfig:"LIMIT"`
	Logging LogConfig     `envconfig:"LOG"`
	Metrics MetricsConfig `envconfig:"METRICS"`
}

// DaemonConfig holds trace daemon connection settings.
type DaemonConfig struct {
	Address     string        `envconfig:"ADDR" default:"unix:///run/tracing/daemon.sock" validate:"required"`
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"500ms" validate:"gt=0"`
	Keepalive   time.Duration `envconfig:"KEEPALIVE" default:"10s" validate:"gte=0"`
}

// WorkerConfig holds background worker timing.
type WorkerConfig struct {
	ConnectRetry time.Duration `envconfig:"CONNECT_RETRY" default:"300ms" validate:"gt=0"`
	// ConnectBudget bounds the first connection attempt; zero waits until shutdown.
	ConnectBudget time.Duration `envconfig:"CONNECT_BUDGET" default:"0s" validate:"gte=0"`
	DrainInterval time.Duration `envconfig:"DRAIN_INTERVAL" default:"40ms" validate:"gt=0"`
}

// MemoryConfig holds trace metadata region settings.
type MemoryConfig struct {
	Size       int    `envconfig:"SIZE" default:"3145728" validate:"gte=4096"`
	PathPrefix string `envconfig:"PATH_PREFIX" default:"/dev_tmd_" validate:"required,startswith=/"`
}

// LimitsConfig holds registry and ring capacities.
type LimitsConfig struct {
	MaxClients    int `envconfig:"MAX_CLIENTS" default:"32" validate:"gt=0,lte=255"`
	MaxShmObjects int `envconfig:"MAX_SHM_OBJECTS" default:"128" validate:"gt=0"`
	RingCapacity  int `envconfig:"RING_CAPACITY" default:"500" validate:"gt=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `envconfig:"NAMESPACE" default:"tracing" validate:"required"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Address:     "unix:///run/tracing/daemon.sock",
			CallTimeout: 500 * time.Millisecond,
			Keepalive:   10 * time.Second,
		},
		Worker: WorkerConfig{
			ConnectRetry:  300 * time.Millisecond,
			DrainInterval: 40 * time.Millisecond,
		},
		Memory: MemoryConfig{
			Size:       3 << 20,
			PathPrefix: "/dev_tmd_",
		},
		Limits: LimitsConfig{
			MaxClients:    32,
			MaxShmObjects: 128,
			RingCapacity:  500,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "tracing",
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TMDPath returns the trace metadata region name for pid.
func (c *Config) TMDPath(pid int) string {
	return fmt.Sprintf("%s%d", c.Memory.PathPrefix, pid)
}
