// Package config loads the engine's runtime configuration: defaults,
// then an optional .env file, then an optional YAML file, then
// environment variable overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every engine-wide setting named in the spec's
// Configuration list plus the store/parallelism defaults a complete
// binary needs.
type Config struct {
	// Worker queue identity (informational — this module runs a single
	// in-process driver loop; the name is loaded and validated, but
	// nothing in the engine or the transition log reads it).
	TaskQueue string `yaml:"task_queue" env:"TASKENGINE_TASK_QUEUE" default:"default"`

	// Activity timeouts.
	ScheduleToCloseTimeout time.Duration `yaml:"schedule_to_close_timeout" env:"TASKENGINE_SCHEDULE_TO_CLOSE_TIMEOUT" default:"30s"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout" env:"TASKENGINE_HEARTBEAT_TIMEOUT" default:"10s"`
	WaitForInputTimeout    time.Duration `yaml:"wait_for_input_timeout" env:"TASKENGINE_WAIT_FOR_INPUT_TIMEOUT" default:"744h"` // 31 days

	QueryTimeout time.Duration `yaml:"query_timeout" env:"TASKENGINE_QUERY_TIMEOUT" default:"5s"`

	Debug   bool `yaml:"debug" env:"TASKENGINE_DEBUG" default:"false"`
	Testing bool `yaml:"testing" env:"TASKENGINE_TESTING" default:"false"`

	// Storage.
	StorePath string `yaml:"store_path" env:"TASKENGINE_STORE_PATH" default:"./taskengine.db"`

	// Retry policy defaults (Activity Dispatcher).
	RetryMaxAttempts    int           `yaml:"retry_max_attempts" env:"TASKENGINE_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" env:"TASKENGINE_RETRY_INITIAL_BACKOFF" default:"1s"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" env:"TASKENGINE_RETRY_MAX_BACKOFF" default:"30s"`

	// Bounded parallelism default for MapReduceStep when a step omits it.
	DefaultParallelism int `yaml:"default_parallelism" env:"TASKENGINE_DEFAULT_PARALLELISM" default:"4"`

	LogLevel string `yaml:"log_level" env:"TASKENGINE_LOG_LEVEL" default:"info"`
}

// DefaultConfig returns a Config populated with the defaults listed
// above, without consulting the environment or any file.
func DefaultConfig() *Config {
	return &Config{
		TaskQueue:              "default",
		ScheduleToCloseTimeout: 30 * time.Second,
		HeartbeatTimeout:       10 * time.Second,
		WaitForInputTimeout:    31 * 24 * time.Hour,
		QueryTimeout:           5 * time.Second,
		Debug:                  false,
		Testing:                false,
		StorePath:              "./taskengine.db",
		RetryMaxAttempts:       3,
		RetryInitialBackoff:    1 * time.Second,
		RetryMaxBackoff:        30 * time.Second,
		DefaultParallelism:     4,
		LogLevel:               "info",
	}
}

// LoadOption customizes Load.
type LoadOption func(*loadState)

type loadState struct {
	yamlPath string
	envPath  string
}

// FromFile points Load at a YAML config file.
func FromFile(path string) LoadOption {
	return func(s *loadState) { s.yamlPath = path }
}

// FromEnvFile points Load at a dotenv file to load before reading
// environment variables.
func FromEnvFile(path string) LoadOption {
	return func(s *loadState) { s.envPath = path }
}

// Load builds a Config: defaults, then .env file (if any), then YAML
// file (if any), then environment variable overrides, then Validate.
func Load(opts ...LoadOption) (*Config, error) {
	state := &loadState{envPath: ".env"}
	for _, opt := range opts {
		opt(state)
	}

	cfg := DefaultConfig()

	if state.envPath != "" {
		if err := godotenv.Load(state.envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading env file %s: %w", state.envPath, err)
		}
	}

	if state.yamlPath != "" {
		if err := loadFromFile(cfg, state.yamlPath); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Testing || cfg.Debug {
		cfg.ScheduleToCloseTimeout = 30 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("TASKENGINE_TASK_QUEUE"); v != "" {
		cfg.TaskQueue = v
	}
	if v := os.Getenv("TASKENGINE_SCHEDULE_TO_CLOSE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_SCHEDULE_TO_CLOSE_TIMEOUT: %w", err)
		}
		cfg.ScheduleToCloseTimeout = d
	}
	if v := os.Getenv("TASKENGINE_HEARTBEAT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_HEARTBEAT_TIMEOUT: %w", err)
		}
		cfg.HeartbeatTimeout = d
	}
	if v := os.Getenv("TASKENGINE_WAIT_FOR_INPUT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_WAIT_FOR_INPUT_TIMEOUT: %w", err)
		}
		cfg.WaitForInputTimeout = d
	}
	if v := os.Getenv("TASKENGINE_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_QUERY_TIMEOUT: %w", err)
		}
		cfg.QueryTimeout = d
	}
	if v := os.Getenv("TASKENGINE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv("TASKENGINE_TESTING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_TESTING: %w", err)
		}
		cfg.Testing = b
	}
	if v := os.Getenv("TASKENGINE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("TASKENGINE_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_RETRY_MAX_ATTEMPTS: %w", err)
		}
		cfg.RetryMaxAttempts = n
	}
	if v := os.Getenv("TASKENGINE_RETRY_INITIAL_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_RETRY_INITIAL_BACKOFF: %w", err)
		}
		cfg.RetryInitialBackoff = d
	}
	if v := os.Getenv("TASKENGINE_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_RETRY_MAX_BACKOFF: %w", err)
		}
		cfg.RetryMaxBackoff = d
	}
	if v := os.Getenv("TASKENGINE_DEFAULT_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TASKENGINE_DEFAULT_PARALLELISM: %w", err)
		}
		cfg.DefaultParallelism = n
	}
	if v := os.Getenv("TASKENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate enforces the ranges the engine depends on.
func (c *Config) Validate() error {
	if c.TaskQueue == "" {
		return fmt.Errorf("config: task_queue must not be empty")
	}
	if c.ScheduleToCloseTimeout <= 0 {
		return fmt.Errorf("config: schedule_to_close_timeout must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: heartbeat_timeout must be positive")
	}
	if c.HeartbeatTimeout > c.ScheduleToCloseTimeout && !c.Testing {
		return fmt.Errorf("config: heartbeat_timeout must not exceed schedule_to_close_timeout")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("config: query_timeout must be positive")
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: store_path must not be empty")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("config: retry_max_attempts must be at least 1")
	}
	if c.RetryInitialBackoff <= 0 {
		return fmt.Errorf("config: retry_initial_backoff must be positive")
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		return fmt.Errorf("config: retry_max_backoff must be >= retry_initial_backoff")
	}
	if c.DefaultParallelism < 1 {
		return fmt.Errorf("config: default_parallelism must be at least 1")
	}
	return nil
}
