// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	DB        DBConfig                  `mapstructure:"db"`
	Broker    BrokerConfig              `mapstructure:"broker"`
	Crawler   CrawlerConfig             `mapstructure:"crawler"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls the HTTP health/metrics server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN            string `mapstructure:"dsn"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BrokerConfig holds the downstream pub/sub connection and channel naming.
type BrokerConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// CrawlerConfig governs the poll and maintenance cadence.
type CrawlerConfig struct {
	PollIntervalSeconds        int `mapstructure:"poll_interval_seconds"`
	MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
	MaxRetries                 int `mapstructure:"max_retries"`
	CallTimeoutSeconds         int `mapstructure:"call_timeout_seconds"`
	ViewerDeltaThreshold       int `mapstructure:"viewer_delta_threshold"`
	SaveMaxAttempts            int `mapstructure:"save_max_attempts"`
	SaveBudgetSeconds          int `mapstructure:"save_budget_seconds"`
	StaleRetentionHours        int `mapstructure:"stale_retention_hours"`
	StopGraceSeconds           int `mapstructure:"stop_grace_seconds"`
	HealthTimeoutSeconds       int `mapstructure:"health_timeout_seconds"`
}

// PlatformConfig configures one platform adapter. Enabled platforms without
// a budget poll unthrottled.
type PlatformConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// QuotaLimit is the unit budget per window; zero means unlimited.
	QuotaLimit       int     `mapstructure:"quota_limit"`
	QuotaWindowHours int     `mapstructure:"quota_window_hours"`
	PacingRPS        float64 `mapstructure:"pacing_rps"`
	CallCost         int     `mapstructure:"call_cost"`
}

// LoggingConfig controls the root logger. Level accepts zap level names;
// empty means info.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.timeout_seconds", 10)
	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.key_prefix", "streamwatch")
	v.SetDefault("crawler.poll_interval_seconds", 30)
	v.SetDefault("crawler.maintenance_interval_seconds", 300)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.call_timeout_seconds", 15)
	v.SetDefault("crawler.viewer_delta_threshold", 50)
	v.SetDefault("crawler.save_max_attempts", 5)
	v.SetDefault("crawler.save_budget_seconds", 60)
	v.SetDefault("crawler.stale_retention_hours", 24)
	v.SetDefault("crawler.stop_grace_seconds", 15)
	v.SetDefault("crawler.health_timeout_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Broker.Addr == "" {
		return fmt.Errorf("broker.addr must be set")
	}
	if c.Crawler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("crawler.poll_interval_seconds must be > 0")
	}
	enabled := 0
	for name, p := range c.Platforms {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.QuotaLimit < 0 {
			return fmt.Errorf("platforms.%s.quota_limit must be >= 0", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one platform must be enabled")
	}
	return nil
}

// PollInterval converts the crawl cadence into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalSeconds) * time.Second
}

// MaintenanceInterval converts the maintenance cadence into a duration.
func (c Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Crawler.MaintenanceIntervalSeconds) * time.Second
}

// QuotaWindow converts the platform's budget window into a duration,
// defaulting to 24h.
func (p PlatformConfig) QuotaWindow() time.Duration {
	if p.QuotaWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(p.QuotaWindowHours) * time.Hour
}
