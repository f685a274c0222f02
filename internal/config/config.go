package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultDBPath      = "./dev.db"
	defaultPort        = "8080"
	defaultEnv         = "development"
	defaultLogLevel    = "info"
	defaultBulkTimeout = 30 * time.Second
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env           string
	AdminEmail    string
	AdminPassword string
	SessionSecret string
	DBPath        string
	Port          string
	LogLevel      string
	// BulkTimeout bounds global price adjustments and mass recomputes.
	BulkTimeout time.Duration

	warnings []string
}

// Load reads the environment, after a best-effort load of ./.env.
func Load() Config {
	_ = loadDotEnv(".env")
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	cfg := Config{
		Env:           strings.ToLower(os.Getenv("APP_ENV")),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		DBPath:        os.Getenv("DB_PATH"),
		Port:          os.Getenv("PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		BulkTimeout:   defaultBulkTimeout,
	}

	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if raw := os.Getenv("BULK_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			cfg.warnings = append(cfg.warnings, fmt.Sprintf("BULK_TIMEOUT=%q is not a positive duration, using %s", raw, defaultBulkTimeout))
		} else {
			cfg.BulkTimeout = d
		}
	}

	if cfg.AdminEmail == "" {
		cfg.warnings = append(cfg.warnings, "ADMIN_EMAIL is not set")
	}
	if cfg.AdminPassword == "" {
		cfg.warnings = append(cfg.warnings, "ADMIN_PASSWORD is not set")
	}
	if cfg.SessionSecret == "" {
		cfg.warnings = append(cfg.warnings, "SESSION_SECRET is not set")
	}

	return cfg
}

// IsDev reports whether the server runs in local development mode.
func (c Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Warnings lists configuration problems found while loading. They are logged
// once the logger exists.
func (c Config) Warnings() []string {
	return append([]string(nil), c.warnings...)
}
