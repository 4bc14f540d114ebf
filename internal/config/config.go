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
	// ErrReplicateTokenRequired is returned when REPLICATE_API_TOKEN is not set.
	ErrReplicateTokenRequired = errors.New("config: REPLICATE_API_TOKEN is required")
	// ErrVideoModelRequired is returned when VIDEO_MODEL is set to an empty value.
	ErrVideoModelRequired = errors.New("config: VIDEO_MODEL is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	PublicBaseURL  string   `env:"PUBLIC_BASE_URL, default=http://localhost:8080" json:"public_base_url"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Persistence; empty selects the in-memory store
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON

	// Prediction provider settings
	ReplicateAPIToken  string `env:"REPLICATE_API_TOKEN, required" json:"-"` // Masked in JSON
	ReplicateBaseURL   string `env:"REPLICATE_BASE_URL, default=https://api.replicate.com/v1" json:"replicate_base_url"`
	ProviderTimeoutSec int    `env:"PROVIDER_TIMEOUT_SEC, default=60" json:"provider_timeout_sec"`

	// Models
	VideoModel         string            `env:"VIDEO_MODEL, default=kwaivgi/kling-v1.6-standard" json:"video_model"`
	VideoBackupModels  []string          `env:"VIDEO_BACKUP_MODELS, default=minimax/video-01,anotherjesse/zeroscope-v2-xl" json:"video_backup_models"`
	VideoModelProfiles map[string]string `env:"VIDEO_MODEL_PROFILES, delimiter=;, separator=|" json:"video_model_profiles,omitempty"`
	FaceExtractModel   string            `env:"FACE_EXTRACT_MODEL, default=zsxkib/facexlib-face-crop" json:"face_extract_model"`
	FaceSwapModel      string            `env:"FACE_SWAP_MODEL, default=arabyai-replicate/roop_face_swap" json:"face_swap_model"`

	// Face extraction settings
	ExtractPollIntervalMs int   `env:"EXTRACT_POLL_INTERVAL_MS, default=3000" json:"extract_poll_interval_ms"`
	ExtractMaxAttempts    int   `env:"EXTRACT_MAX_ATTEMPTS, default=40" json:"extract_max_attempts"`
	FaceImageSize         int   `env:"FACE_IMAGE_SIZE, default=512" json:"face_image_size"`
	MaxUploadBytes        int64 `env:"MAX_UPLOAD_BYTES, default=52428800" json:"max_upload_bytes"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/faceswap" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional SMTP settings; notifications are skipped without credentials
	SMTPHost     string `env:"SMTP_HOST" json:"smtp_host,omitempty"`
	SMTPPort     int    `env:"SMTP_PORT, default=587" json:"smtp_port"`
	SMTPUsername string `env:"SMTP_USERNAME" json:"smtp_username,omitempty"`
	SMTPPassword string `env:"SMTP_PASSWORD" json:"-"` // Masked in JSON
	SMTPFrom     string `env:"SMTP_FROM, default=noreply@faceswap.local" json:"smtp_from"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// SMTPEnabled returns true if SMTP credentials are provided.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}

// PostgresEnabled returns true if a database URL is configured.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// ExtractPollInterval returns the delay between face extraction polls.
func (c *Config) ExtractPollInterval() time.Duration {
	return time.Duration(c.ExtractPollIntervalMs) * time.Millisecond
}

// ProviderTimeout returns the outbound HTTP timeout for provider calls.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return LoadWithLookuper(envconfig.OsLookuper())
}

// LoadWithLookuper reads configuration from the given lookuper.
// Tests use it with envconfig.MapLookuper to avoid touching the process env.
func LoadWithLookuper(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	})
	if err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "REPLICATE_API_TOKEN") {
			return nil, ErrReplicateTokenRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.ReplicateAPIToken == "" {
		return ErrReplicateTokenRequired
	}
	if c.VideoModel == "" {
		return ErrVideoModelRequired
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
		"Config{Port: %d, PublicBaseURL: %s, Postgres: %t, ReplicateBaseURL: %s, VideoModel: %s, VideoBackupModels: %v, FaceExtractModel: %s, FaceSwapModel: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, SMTPHost: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PublicBaseURL,
		c.PostgresEnabled(),
		c.ReplicateBaseURL,
		c.VideoModel,
		c.VideoBackupModels,
		c.FaceExtractModel,
		c.FaceSwapModel,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.SMTPHost,
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
