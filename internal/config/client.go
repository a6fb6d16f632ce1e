package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// ClientConfig configures the studio client
type ClientConfig struct {
	ServerURL string `env:"STUDIO_SERVER_URL" envDefault:"http://127.0.0.1:8080"`
	StateDir  string `env:"STUDIO_STATE_DIR"`
	// Ledger selects where local usage records are kept: "file" or "redis".
	Ledger   string `env:"STUDIO_LEDGER" envDefault:"file"`
	RedisURL string `env:"REDIS_URL"`
	LogLevel string `env:"STUDIO_LOG_LEVEL" envDefault:"warn"`
}

// LoadClient reads the client configuration from .env and the environment
func LoadClient() (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.StateDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		cfg.StateDir = filepath.Join(dir, "avatar-studio")
	}

	switch cfg.Ledger {
	case "file", "redis":
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}
	if cfg.Ledger == "redis" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for the redis ledger")
	}

	return &cfg, nil
}
