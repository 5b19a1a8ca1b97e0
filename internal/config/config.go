package config

import "time"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Log       LogConfig       `mapstructure:"log" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Detector  DetectorConfig  `mapstructure:"detector" validate:"required"`
	Crop      CropConfig      `mapstructure:"crop" validate:"required"`
	Replicate ReplicateConfig `mapstructure:"replicate" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Janitor   JanitorConfig   `mapstructure:"janitor" validate:"required"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	MaxImagePixels  int64         `mapstructure:"max_image_pixels" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// StorageConfig points at the directory holding per-task temporary files.
type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir" validate:"required"`
}

// WorkerConfig bounds background execution.
type WorkerConfig struct {
	Count       int           `mapstructure:"count" validate:"gt=0"`
	QueueSize   int           `mapstructure:"queue_size" validate:"gt=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Backend   string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	ResultTTL time.Duration `mapstructure:"result_ttl" validate:"gt=0"`
}

// DetectorConfig points at the remote face detector.
type DetectorConfig struct {
	Addr          string        `mapstructure:"addr" validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MinConfidence float64       `mapstructure:"min_confidence" validate:"gt=0,lte=1"`
}

// CropConfig tunes the crop planner and the resize that follows it.
type CropConfig struct {
	Margin     float64 `mapstructure:"margin" validate:"gte=0,lt=1"`
	OutputSize int     `mapstructure:"output_size" validate:"gt=0"`
}

// ReplicateConfig configures the two generation models.
type ReplicateConfig struct {
	APIToken          string        `mapstructure:"api_token" validate:"required"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	StylizeModel      string        `mapstructure:"stylize_model" validate:"required"`
	RemoveBGModel     string        `mapstructure:"remove_bg_model" validate:"required"`
	Style             string        `mapstructure:"style" validate:"required"`
	Prompt            string        `mapstructure:"prompt"`
	InstantIDStrength float64       `mapstructure:"instant_id_strength" validate:"gte=0,lte=1"`
	Width             int           `mapstructure:"width" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// DatabaseConfig enables the outcome log when DSN is set.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JanitorConfig schedules eviction of stale results and files.
type JanitorConfig struct {
	Schedule string        `mapstructure:"schedule" validate:"required"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}
