// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrVideoAPIURLRequired is returned when VIDEO_API_URL is not set.
	ErrVideoAPIURLRequired = errors.New("config: VIDEO_API_URL is required")
	// ErrVideoAPIKeyRequired is returned when VIDEO_API_KEY is not set.
	ErrVideoAPIKeyRequired = errors.New("config: VIDEO_API_KEY is required")
	// ErrUnknownDBDriver is returned for a DB_DRIVER other than memory, sqlite or postgres.
	ErrUnknownDBDriver = errors.New("config: DB_DRIVER must be memory, sqlite or postgres")
	// ErrDatabaseURLRequired is returned when DB_DRIVER=postgres has no DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for postgres")
	// ErrInvalidPollInterval is returned for a non-positive POLL_INTERVAL.
	ErrInvalidPollInterval = errors.New("config: POLL_INTERVAL must be positive")
	// ErrInvalidRateLimit is returned for a non-positive rate limit.
	ErrInvalidRateLimit = errors.New("config: RATE_LIMIT_MAX_REQUESTS and RATE_LIMIT_WINDOW must be positive")
)

// Database drivers.
const (
	DBDriverMemory   = "memory"
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port            int           `env:"PORT, default=8080" json:"port"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s" json:"shutdown_timeout"`
	// AdminToken enables the admin routes; empty disables them.
	AdminToken string `env:"ADMIN_TOKEN" json:"-"` // Masked in JSON

	// Video model provider
	VideoAPIURL string `env:"VIDEO_API_URL, required" json:"video_api_url"`
	VideoAPIKey string `env:"VIDEO_API_KEY, required" json:"-"` // Masked in JSON

	// Image generation provider (pipelines)
	ImageAPIURL       string `env:"IMAGE_API_URL" json:"image_api_url,omitempty"`
	ImageAPIKey       string `env:"IMAGE_API_KEY" json:"-"` // Masked in JSON
	ImageFaceModel    string `env:"IMAGE_FACE_MODEL, default=face-extract" json:"image_face_model"`
	ImageSceneModel   string `env:"IMAGE_SCENE_MODEL, default=scene-compose" json:"image_scene_model"`
	ImageUpscaleModel string `env:"IMAGE_UPSCALE_MODEL, default=upscale" json:"image_upscale_model"`

	// Speech synthesis provider
	SpeechAPIURL string `env:"SPEECH_API_URL" json:"speech_api_url,omitempty"`
	SpeechAPIKey string `env:"SPEECH_API_KEY" json:"-"` // Masked in JSON

	// Polling. PollMaxFailures counts consecutive poll errors; 0 retries forever.
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=4s" json:"poll_interval"`
	PollMaxWait     time.Duration `env:"POLL_MAX_WAIT, default=0s" json:"poll_max_wait"`
	PollMaxFailures int           `env:"POLL_MAX_FAILURES, default=50" json:"poll_max_failures"`

	// Batches
	BatchConcurrency int     `env:"BATCH_CONCURRENCY, default=1" json:"batch_concurrency"`
	BatchRatePerSec  float64 `env:"BATCH_RATE_PER_SEC, default=0" json:"batch_rate_per_sec"`
	BatchMaxCount    int     `env:"BATCH_MAX_COUNT, default=20" json:"batch_max_count"`

	// Public API rate limit
	RateLimitMaxRequests int           `env:"RATE_LIMIT_MAX_REQUESTS, default=5" json:"rate_limit_max_requests"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW, default=60s" json:"rate_limit_window"`

	// Prompt policy; empty uses the built-in list
	BannedTerms []string `env:"BANNED_TERMS" json:"banned_terms,omitempty"`

	// Ledger
	DBDriver    string `env:"DB_DRIVER, default=memory" json:"db_driver"`
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON, may carry credentials

	// Optional Redis (shared rate limit counters, event fan-out)
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db"`
	RedisChannel  string `env:"REDIS_CHANNEL, default=videoforge.events" json:"redis_channel"`

	// Optional SQS (terminal event fan-out)
	SQSQueueURL string `env:"SQS_QUEUE_URL" json:"sqs_queue_url,omitempty"`

	// Storage settings
	TempDir       string `env:"TEMP_DIR, default=/tmp/videoforge" json:"temp_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL, default=http://localhost:8080" json:"public_base_url"`
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath   string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ImageEnabled returns true if the image provider is configured.
func (c *Config) ImageEnabled() bool {
	return c.ImageAPIURL != "" && c.ImageAPIKey != ""
}

// SpeechEnabled returns true if the speech provider is configured.
func (c *Config) SpeechEnabled() bool {
	return c.SpeechAPIURL != "" && c.SpeechAPIKey != ""
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// SQSEnabled returns true if an SQS queue is configured.
func (c *Config) SQSEnabled() bool {
	return c.SQSQueueURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or invalid.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "VIDEO_API_URL") {
			return nil, ErrVideoAPIURLRequired
		}
		if strings.Contains(err.Error(), "VIDEO_API_KEY") {
			return nil, ErrVideoAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.VideoAPIURL == "" {
		return ErrVideoAPIURLRequired
	}
	if c.VideoAPIKey == "" {
		return ErrVideoAPIKeyRequired
	}
	switch strings.ToLower(c.DBDriver) {
	case DBDriverMemory, DBDriverSQLite:
	case DBDriverPostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownDBDriver, c.DBDriver)
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.RateLimitMaxRequests <= 0 || c.RateLimitWindow <= 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, VideoAPIURL: %s, ImageAPIURL: %s, SpeechAPIURL: %s, PollInterval: %s, DBDriver: %s, RedisAddr: %s, SQSQueueURL: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.VideoAPIURL,
		c.ImageAPIURL,
		c.SpeechAPIURL,
		c.PollInterval,
		c.DBDriver,
		c.RedisAddr,
		c.SQSQueueURL,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
