package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingWebhook = errors.New("webhook URL is required")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"

	DefaultWebhookTimeout = 15 * time.Second
)

// Config is loaded from an optional YAML file, then .env, then ADCRAFT_*
// environment variables. Unset fields get defaults last.
type Config struct {
	SuggestionWebhookURL string        `yaml:"suggestion_webhook_url" env:"ADCRAFT_SUGGESTION_WEBHOOK_URL"`
	ChatWebhookURL       string        `yaml:"chat_webhook_url" env:"ADCRAFT_CHAT_WEBHOOK_URL"`
	EnhanceFunctionURL   string        `yaml:"enhance_function_url" env:"ADCRAFT_ENHANCE_FUNCTION_URL"`
	WebhookTimeout       time.Duration `yaml:"webhook_timeout" env:"ADCRAFT_WEBHOOK_TIMEOUT"`

	DBPath string `yaml:"db_path" env:"ADCRAFT_DB_PATH"`

	StorageBackend      string `yaml:"storage_backend" env:"ADCRAFT_STORAGE_BACKEND"`
	LocalStoragePath    string `yaml:"local_storage_path" env:"ADCRAFT_LOCAL_STORAGE_PATH"`
	LocalStorageBaseURL string `yaml:"local_storage_base_url" env:"ADCRAFT_LOCAL_STORAGE_BASE_URL"`

	S3Endpoint      string `yaml:"s3_endpoint" env:"ADCRAFT_S3_ENDPOINT"`
	S3Region        string `yaml:"s3_region" env:"ADCRAFT_S3_REGION"`
	S3Bucket        string `yaml:"s3_bucket" env:"ADCRAFT_S3_BUCKET"`
	S3AccessKeyID   string `yaml:"s3_access_key_id" env:"ADCRAFT_S3_ACCESS_KEY_ID"`
	S3SecretKey     string `yaml:"s3_secret_access_key" env:"ADCRAFT_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle  bool   `yaml:"s3_use_path_style" env:"ADCRAFT_S3_USE_PATH_STYLE"`
	S3PublicBaseURL string `yaml:"s3_public_base_url" env:"ADCRAFT_S3_PUBLIC_BASE_URL"`

	LogLevel  string `yaml:"log_level" env:"ADCRAFT_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"ADCRAFT_LOG_FORMAT"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	c.SuggestionWebhookURL = strings.TrimSpace(c.SuggestionWebhookURL)
	c.ChatWebhookURL = strings.TrimSpace(c.ChatWebhookURL)
	c.EnhanceFunctionURL = strings.TrimSpace(c.EnhanceFunctionURL)
	c.S3Bucket = strings.TrimSpace(c.S3Bucket)
	c.S3AccessKeyID = strings.TrimSpace(c.S3AccessKeyID)
	c.S3SecretKey = strings.TrimSpace(c.S3SecretKey)

	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = DefaultWebhookTimeout
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendLocal
	}
	c.StorageBackend = strings.ToLower(c.StorageBackend)
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}

	if c.DBPath == "" || c.LocalStoragePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		if c.DBPath == "" {
			c.DBPath = filepath.Join(home, ".adcraft", "adcraft.db")
		}
		if c.LocalStoragePath == "" {
			c.LocalStoragePath = filepath.Join(home, ".adcraft", "media")
		}
	}
	return nil
}

// Validate reports configuration that would make the tool unusable.
func (c *Config) Validate() error {
	if c.SuggestionWebhookURL == "" {
		return fmt.Errorf("%w: set ADCRAFT_SUGGESTION_WEBHOOK_URL", ErrMissingWebhook)
	}
	if c.ChatWebhookURL == "" {
		return fmt.Errorf("%w: set ADCRAFT_CHAT_WEBHOOK_URL", ErrMissingWebhook)
	}
	switch c.StorageBackend {
	case BackendLocal:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: s3 backend needs ADCRAFT_S3_BUCKET", ErrUnknownBackend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.StorageBackend)
	}
	return nil
}
