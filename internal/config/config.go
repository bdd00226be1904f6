// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

// AuthConfig defines admin API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate         bool   `mapstructure:"migrate"`
}

// RedisConfig controls the response cache backend. An empty address
// selects the in-memory cache.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FetchConfig governs page retrieval.
type FetchConfig struct {
	// Mode is "headless" (browser rendering) or "plain" (direct HTTP).
	Mode              string `mapstructure:"mode"`
	UserAgent         string `mapstructure:"user_agent"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Override   bool `mapstructure:"override"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
}

// ExtractConfig bounds the extraction engine.
type ExtractConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

// CacheConfig bounds rendered-document freshness.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// ArchiveConfig selects where raw page snapshots go. Empty values disable
// archiving; a bucket wins over a local directory.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEFEED")
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
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_seconds", 1800)
	v.SetDefault("database.migrate", true)
	v.SetDefault("fetch.mode", "headless")
	v.SetDefault("fetch.user_agent", "pagefeed-bot/0.1")
	v.SetDefault("fetch.max_parallel", 2)
	v.SetDefault("fetch.nav_timeout_seconds", 20)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("robots.override", false)
	v.SetDefault("robots.ttl_seconds", 3600)
	v.SetDefault("extract.max_items", 50)
	v.SetDefault("cache.ttl_seconds", 120)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.Mode != "headless" && c.Fetch.Mode != "plain" {
		return fmt.Errorf("fetch.mode must be headless or plain")
	}
	if c.Fetch.MaxParallel <= 0 {
		return fmt.Errorf("fetch.max_parallel must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Extract.MaxItems <= 0 {
		return fmt.Errorf("extract.max_items must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set with pubsub.topic_name")
	}
	return nil
}

// CacheTTL converts the configured cache TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RobotsTTL converts the configured robots cache TTL into a duration.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Robots.TTLSeconds) * time.Second
}

// FetchTimeout converts the plain-fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSeconds) * time.Second
}
