// Package config loads the server configuration from a JSON file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// Config holds all playrank server configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Database is the SQLite database path or DSN.
	Database DatabaseConfig `json:"database"`

	// ELO points at the externalised per-activity-type defaults file.
	ELO ELOConfig `json:"elo"`

	// Skills points at the skill catalog seeded at startup.
	Skills SkillsConfig `json:"skills"`

	// Maintenance controls the background cron jobs.
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`

	// ServerID identifies this instance in ELO calculation locks.
	ServerID string `json:"serverId,omitempty"`
}

type DatabaseConfig struct {
	URL string `json:"url"`
}

type ELOConfig struct {
	SettingsFile string `json:"settingsFile,omitempty"`
}

type SkillsConfig struct {
	CatalogFile string `json:"catalogFile,omitempty"`
}

type MaintenanceConfig struct {
	// LogRetentionDays is how long change-log entries are kept.
	LogRetentionDays int `json:"logRetentionDays"`
	// DrainSchedule is the cron expression for the ELO drain sweep.
	DrainSchedule string `json:"drainSchedule,omitempty"`
	// SweepSchedule is the cron expression for the retention sweep.
	SweepSchedule string `json:"sweepSchedule,omitempty"`
}

// DefaultConfig returns a runnable local development configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			URL: "playrank.db",
		},
		Maintenance: MaintenanceConfig{
			LogRetentionDays: 7,
			DrainSchedule:    "* * * * *",
			SweepSchedule:    "30 3 * * *",
		},
	}
}

// Load reads the config file if present, then applies environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: database url is required (set database.url or PLAYRANK_DATABASE_URL)")
	}
	if cfg.Server.ServerID == "" {
		cfg.Server.ServerID = uuid.NewString()
	}
	if cfg.Maintenance.LogRetentionDays <= 0 {
		cfg.Maintenance.LogRetentionDays = 7
	}
	if cfg.Maintenance.DrainSchedule == "" {
		cfg.Maintenance.DrainSchedule = "* * * * *"
	}
	if cfg.Maintenance.SweepSchedule == "" {
		cfg.Maintenance.SweepSchedule = "30 3 * * *"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PLAYRANK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("PLAYRANK_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("PLAYRANK_SERVER_ID"); v != "" {
		c.Server.ServerID = v
	}
	if v := os.Getenv("PLAYRANK_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PLAYRANK_ELO_SETTINGS"); v != "" {
		c.ELO.SettingsFile = v
	}
	if v := os.Getenv("PLAYRANK_SKILL_CATALOG"); v != "" {
		c.Skills.CatalogFile = v
	}
	if v := os.Getenv("PLAYRANK_LOG_RETENTION_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Maintenance.LogRetentionDays = d
		}
	}
}
