package config

import "time"

// Config holds all application configuration, organized into logical groups.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Retry     RetryConfig     `mapstructure:"retry"     validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"       validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig contains all server-related settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`
}

// RateLimitConfig describes the per-client ingress limit.
type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window" validate:"required"`
	Max    int           `mapstructure:"max"    validate:"required,gt=0"`
}

// RetryConfig tunes the retry executor wrapping provider calls.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"        validate:"gte=0"`
	BaseDelay         time.Duration `mapstructure:"base_delay"         validate:"required"`
	MaxDelay          time.Duration `mapstructure:"max_delay"          validate:"required"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"required,gte=1"`
	Jitter            bool          `mapstructure:"jitter"`
	Timeout           time.Duration `mapstructure:"timeout"            validate:"required"`
}

// LLMConfig contains the generation provider settings.
type LLMConfig struct {
	APIKey             string `mapstructure:"api_key"              validate:"required"`
	ModelName          string `mapstructure:"model_name"           validate:"required"`
	PromptTemplatePath string `mapstructure:"prompt_template_path" validate:"required"`
}

// RedisConfig selects the distributed rate-limit store. When disabled the
// in-process store is used.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}
