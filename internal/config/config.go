package config

import (
	"fmt"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the triage service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TRIAGE_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"TRIAGE_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Redis    RedisConfig
	Memory   MemoryConfig
	Events   EventsConfig
	Workers  WorkerConfig
	Timeouts TimeoutConfig
	Policy   PolicyConfig
	Pipeline PipelineConfig
	LLM      LLMConfig

	// RunRetention is how long finished runs stay in the archive.
	RunRetention time.Duration `env:"RUN_RETENTION" envDefault:"24h"`
}

// RedisConfig holds Redis connection configuration. When disabled, runs are
// archived in process and events are not mirrored.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// MemoryConfig holds memory store settings
type MemoryConfig struct {
	DBPath     string        `env:"MEMORY_DB_PATH" envDefault:"data/memory.db"`
	WorkingTTL time.Duration `env:"MEMORY_WORKING_TTL" envDefault:"1h"`
}

// EventsConfig holds event bus settings
type EventsConfig struct {
	HistoryCapacity int    `env:"EVENTS_HISTORY_CAPACITY" envDefault:"1000"`
	StreamKey       string `env:"EVENTS_STREAM_KEY" envDefault:"triage:events"`
	StreamMaxLen    int64  `env:"EVENTS_STREAM_MAXLEN" envDefault:"10000"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	Run      time.Duration `env:"TIMEOUT_RUN" envDefault:"120s"`
	Stage    time.Duration `env:"TIMEOUT_STAGE" envDefault:"60s"`
	Shutdown time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// PolicyConfig holds the decision stage settings
type PolicyConfig struct {
	ConfidenceThreshold float64 `env:"POLICY_CONFIDENCE_THRESHOLD" envDefault:"0.7"`
	// RulesFile replaces the built-in rules when set.
	RulesFile string `env:"POLICY_RULES_FILE"`
}

// PipelineConfig holds executor settings
type PipelineConfig struct {
	DependencyPolicy string `env:"PIPELINE_DEPENDENCY_POLICY" envDefault:"permissive"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider       string        `env:"LLM_PROVIDER" envDefault:"heuristic"`
	APIKey         string        `env:"LLM_API_KEY"`
	Model          string        `env:"LLM_MODEL"`
	MaxTokens      int           `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"60s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from environ instead of the process
// environment. A nil map reads the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, &domain.ConfigurationError{Reason: "failed to parse environment", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return &domain.ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return invalid("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return invalid("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis address is required when redis is enabled")
	}

	if c.Memory.DBPath == "" {
		return invalid("memory database path is required")
	}
	if c.Memory.WorkingTTL < 0 {
		return invalid("memory working TTL must not be negative")
	}

	if c.Events.HistoryCapacity < 1 {
		return invalid("event history capacity must be at least 1")
	}

	if c.Workers.PoolSize < 1 {
		return invalid("worker pool size must be at least 1")
	}

	if c.Timeouts.Run <= 0 || c.Timeouts.Stage <= 0 || c.Timeouts.Shutdown <= 0 {
		return invalid("timeouts must be positive")
	}

	if c.Policy.ConfidenceThreshold < 0 || c.Policy.ConfidenceThreshold > 1 {
		return invalid("confidence threshold must be within [0, 1]: %v", c.Policy.ConfidenceThreshold)
	}

	switch c.Pipeline.DependencyPolicy {
	case "permissive", "strict":
	default:
		return invalid("invalid dependency policy: %s (must be permissive or strict)", c.Pipeline.DependencyPolicy)
	}

	switch c.LLM.Provider {
	case "heuristic":
	case "anthropic":
		if c.LLM.APIKey == "" {
			return invalid("LLM API key is required for provider %s", c.LLM.Provider)
		}
	default:
		return invalid("unsupported LLM provider: %s (must be heuristic or anthropic)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return invalid("LLM max tokens must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return invalid("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
