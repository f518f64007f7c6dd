package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile loads configuration from path on top of the defaults and
// then applies SITEFEED_* environment overrides. A missing file is not an
// error; a file that exists but cannot be parsed is.
func LoadConfigFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// File doesn't exist -- defaults apply
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func applyEnv(cfg *Config) {
	cfg.Addr = getEnv("SITEFEED_ADDR", cfg.Addr)
	cfg.PublicURL = getEnv("SITEFEED_PUBLIC_URL", cfg.PublicURL)
	cfg.Profile = Profile(getEnv("SITEFEED_PROFILE", string(cfg.Profile)))
	cfg.Logging.Level = getEnv("SITEFEED_LOG_LEVEL", cfg.Logging.Level)
	cfg.SourcesPath = getEnv("SITEFEED_SOURCES", cfg.SourcesPath)
	cfg.StatusDSN = getEnv("SITEFEED_STATUS_DSN", cfg.StatusDSN)
	cfg.Cache.TTL = getEnvDuration("SITEFEED_CACHE_TTL", cfg.Cache.TTL)
	cfg.Browser.Headless = getEnvBool("SITEFEED_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.ExecutablePath = getEnv("SITEFEED_BROWSER_PATH", cfg.Browser.ExecutablePath)
	cfg.Browser.MaxSessions = int64(getEnvInt("SITEFEED_MAX_SESSIONS", int(cfg.Browser.MaxSessions)))
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a duration from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvInt parses an int from environment variable or returns default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
