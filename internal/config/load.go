package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FACEMOJI_WORKER_COUNT for worker.count.
const EnvPrefix = "FACEMOJI"

var validate = validator.New()

// Load reads configuration from defaults, an optional file and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("replicate.api_token", EnvPrefix+"_REPLICATE_API_TOKEN", "REPLICATE_API_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind replicate token env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// the janitor must never remove uploads of a task that can still be running
	if c.Janitor.MaxAge <= c.Worker.TaskTimeout {
		return errors.New("invalid config: janitor.max_age must exceed worker.task_timeout")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.max_image_pixels", 40_000_000)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")

	v.SetDefault("storage.upload_dir", "uploads")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.task_timeout", 5*time.Minute)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.result_ttl", 30*time.Minute)

	v.SetDefault("detector.addr", "face-detector:50051")
	v.SetDefault("detector.timeout", 10*time.Second)
	v.SetDefault("detector.min_confidence", 0.5)

	v.SetDefault("crop.margin", 0.25)
	v.SetDefault("crop.output_size", 400)

	v.SetDefault("replicate.api_token", "")
	v.SetDefault("replicate.base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate.stylize_model", "fofr/face-to-many:a07f252abbbd832009640b27f063ea52d87d7a23a185ca165bec23b5adc8deaf")
	v.SetDefault("replicate.remove_bg_model", "lucataco/remove-bg:95fcc2a26d3899cd6c2691c900465aaeff466285a65c14638cc5f36f34befaf1")
	v.SetDefault("replicate.style", "Emoji")
	v.SetDefault("replicate.prompt", "a person")
	v.SetDefault("replicate.instant_id_strength", 0.8)
	v.SetDefault("replicate.width", 512)
	v.SetDefault("replicate.poll_interval", time.Second)
	v.SetDefault("replicate.request_timeout", 90*time.Second)

	v.SetDefault("database.dsn", "")

	v.SetDefault("janitor.schedule", "@every 1m")
	v.SetDefault("janitor.max_age", 30*time.Minute)
}
