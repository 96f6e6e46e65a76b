package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and environment
// variables, with environment variables taking precedence. Variables use
// the FABLE_ prefix with underscores for nesting (FABLE_SERVER_PORT,
// FABLE_LLM_API_KEY). Returns a validated Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("FABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.max", 10)

	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.timeout", "60s")

	// The empty default registers the key so AutomaticEnv can fill it;
	// validation rejects a config where it stays empty.
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.prompt_template_path", "prompts/story.tmpl")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
}

// validateConfig applies struct tags plus cross-field checks the tags
// cannot express.
func validateConfig(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed on %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Retry.BaseDelay > cfg.Retry.MaxDelay {
		return fmt.Errorf("invalid configuration: retry.base_delay (%s) exceeds retry.max_delay (%s)",
			cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	return nil
}
