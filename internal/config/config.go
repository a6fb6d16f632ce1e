package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Guest     GuestConfig     `yaml:"guest"`
	DID       DIDConfig       `yaml:"did"`
	Unsplash  UnsplashConfig  `yaml:"unsplash"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Secrets   Secrets         `yaml:"-"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GuestConfig controls anonymous sessions and the tokens issued to them
type GuestConfig struct {
	StartingTokens       int           `yaml:"starting_tokens"`
	MaxSessionsPerDevice int           `yaml:"max_sessions_per_device"`
	TokenTTL             time.Duration `yaml:"token_ttl"`
}

// DIDConfig contains the avatar/video provider settings
type DIDConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	PresenterCacheTTL time.Duration `yaml:"presenter_cache_ttl"`
}

// UnsplashConfig contains the image search provider settings
type UnsplashConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig describes the S3-compatible bucket holding avatar uploads
type StorageConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	BaseURL        string `yaml:"base_url"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// RedisConfig enables the presenter cache when set
type RedisConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig bounds requests per device fingerprint
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Secrets are loaded from the environment only
type Secrets struct {
	DIDAPIKey         string `env:"DID_API_KEY"`
	UnsplashAccessKey string `env:"UNSPLASH_ACCESS_KEY"`
	GuestJWTSecret    string `env:"GUEST_JWT_SECRET"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	RedisURL          string `env:"REDIS_URL"`
}

// Load loads configuration from a YAML file, a .env file if present, and environment variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Secrets.GuestJWTSecret == "" {
		return nil, fmt.Errorf("GUEST_JWT_SECRET is required")
	}

	return cfg, nil
}

// Default returns the configuration used for keys the YAML file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/studio.db"},
		Guest: GuestConfig{
			StartingTokens:       500,
			MaxSessionsPerDevice: 1,
			TokenTTL:             30 * 24 * time.Hour,
		},
		DID: DIDConfig{
			BaseURL:           "https://api.d-id.com",
			Timeout:           60 * time.Second,
			PresenterCacheTTL: 10 * time.Minute,
		},
		Unsplash: UnsplashConfig{
			BaseURL: "https://api.unsplash.com",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Bucket: "avatars",
			Region: "us-east-1",
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Address returns the server address string
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// loadDotEnv loads .env into the process environment without overriding set variables
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
