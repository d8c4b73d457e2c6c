package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL   = "http://127.0.0.1:8080"
	DefaultTimeout   = 10 * time.Second
	DefaultStatePath = ".labyrinth/state.json"

	// EnvBaseURL overrides the configured base URL.
	EnvBaseURL = "LABYRINTH_API_URL"
	// EnvUserID is sent as X-User-Id.
	EnvUserID = "LABYRINTH_USER_ID"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL   string        `yaml:"baseURL"`
	Timeout   time.Duration `yaml:"timeout"`
	UserID    string        `yaml:"userID"`
	StatePath string        `yaml:"statePath"`
	Color     *bool         `yaml:"color"`
}

// Load reads path if it exists, then applies .env and environment overrides.
// A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config file failed: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file failed: %w", err)
			}
		}
	}
	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// loadDotEnv loads ./.env without overriding variables already set.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env failed: %w", err)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		cfg.UserID = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	// The facade refuses sessions without an owner.
	if cfg.UserID == "" {
		cfg.UserID = os.Getenv("USER")
	}
	if cfg.Color == nil {
		value := true
		cfg.Color = &value
	}
}
