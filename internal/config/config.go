// Package config loads the application configuration from YAML with
// environment variable overrides.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the mailtrader bot.
type Config struct {
	Telegram  Telegram  `yaml:"telegram"`
	TradeAPI  TradeAPI  `yaml:"trade_api"`
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Scheduler Scheduler `yaml:"scheduler"`
	Limits    Limits    `yaml:"limits"`
}

// Telegram holds the bot credential and the owner identity.
type Telegram struct {
	Token   string `yaml:"token"`
	OwnerID int64  `yaml:"owner_id"`
}

// TradeAPI holds the upstream trading API endpoint and credential.
type TradeAPI struct {
	Domain          string `yaml:"domain"`
	Key             string `yaml:"key"`
	PaperMode       bool   `yaml:"paper_mode"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Server holds the status API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Scheduler holds the two job intervals, in minutes.
type Scheduler struct {
	MatchIntervalMin     int `yaml:"match_interval_min"`
	BroadcastIntervalMin int `yaml:"broadcast_interval_min"`
}

// Limits bounds user-supplied order parameters.
type Limits struct {
	MinQuantity int `yaml:"min_quantity"`
	MaxQuantity int `yaml:"max_quantity"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.OwnerID = id
		}
	}

	if v := os.Getenv("API_DOMAIN"); v != "" {
		cfg.TradeAPI.Domain = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.TradeAPI.Key = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MATCH_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MatchIntervalMin = n
		}
	}
	if v := os.Getenv("BROADCAST_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.BroadcastIntervalMin = n
		}
	}
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.TradeAPI.Domain == "" {
		cfg.TradeAPI.Domain = "https://trade.gmailfarmer.com"
	}
	if cfg.TradeAPI.RateLimitPerMin <= 0 {
		cfg.TradeAPI.RateLimitPerMin = 60
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/mailtrader.db"
	}
	if cfg.Storage.ArchiveDir == "" {
		cfg.Storage.ArchiveDir = "data/archive"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Scheduler.MatchIntervalMin <= 0 {
		cfg.Scheduler.MatchIntervalMin = 5
	}
	if cfg.Scheduler.BroadcastIntervalMin <= 0 {
		cfg.Scheduler.BroadcastIntervalMin = 60
	}
	if cfg.Limits.MinQuantity <= 0 {
		cfg.Limits.MinQuantity = 1
	}
	if cfg.Limits.MaxQuantity <= 0 {
		cfg.Limits.MaxQuantity = 3000
	}
}
