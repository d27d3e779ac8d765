// Package config defines the top-level configuration for tickbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TICKBOT_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	RunName  string         `toml:"run_name"`
	Feed     FeedConfig     `toml:"feed"`
	Strategy StrategyConfig `toml:"strategy"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// FeedConfig selects where ticks come from.
type FeedConfig struct {
	// Type is one of tcp, ws, csv, s3, redis.
	Type string `toml:"type"`
	Addr string `toml:"addr"`
	URL  string `toml:"url"`
	Path string `toml:"path"`
	// S3Key is the object key of a CSV in the configured bucket.
	S3Key  string `toml:"s3_key"`
	Stream string `toml:"stream"`
	// Symbol overrides the symbol of every record when set.
	Symbol       string   `toml:"symbol"`
	Timezone     string   `toml:"timezone"`
	DialAttempts int      `toml:"dial_attempts"`
	DialBackoff  duration `toml:"dial_backoff"`
}

// StrategyConfig holds the active strategy set and per-strategy parameters.
type StrategyConfig struct {
	Active []string `toml:"active"`
	// Size is the position size in units; 0 means one unit.
	Size float64 `toml:"size"`
	// Concurrent runs each strategy in its own goroutine behind a channel.
	Concurrent bool `toml:"concurrent"`

	Bollinger  BollingerConfig  `toml:"bollinger"`
	VolumeFade VolumeFadeConfig `toml:"volume_fade"`
}

// BollingerConfig holds config for bollinger_mean_reversion.
type BollingerConfig struct {
	Window    int     `toml:"window"`
	NumStdDev float64 `toml:"num_std_dev"`
}

// Params converts the section into strategy params.
func (b BollingerConfig) Params() map[string]any {
	return map[string]any{
		"window":      b.Window,
		"num_std_dev": b.NumStdDev,
	}
}

// VolumeFadeConfig holds config for volume_fade.
type VolumeFadeConfig struct {
	VolumeWindow  int     `toml:"volume_window"`
	MinGapPercent float64 `toml:"min_gap_percent"`
	MinBodyRatio  float64 `toml:"min_body_ratio"`
	MaxVolumeZ    float64 `toml:"max_volume_z"`
	MinRewardRisk float64 `toml:"min_reward_risk"`
	OptionType    string  `toml:"option_type"`
}

// Params converts the section into strategy params.
func (v VolumeFadeConfig) Params() map[string]any {
	return map[string]any{
		"volume_window":   v.VolumeWindow,
		"min_gap_percent": v.MinGapPercent,
		"min_body_ratio":  v.MinBodyRatio,
		"max_volume_z":    v.MaxVolumeZ,
		"min_reward_risk": v.MinRewardRisk,
		"option_type":     v.OptionType,
	}
}

// RedisConfig holds Redis connection parameters and what the run uses it for.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// LockTTL is the run lock lease; the lock is refreshed while the run is alive.
	LockTTL       duration `toml:"lock_ttl"`
	EventsChannel string   `toml:"events_channel"`
	EventsStream  string   `toml:"events_stream"`
	MirrorPrices  bool     `toml:"mirror_prices"`
}

// PostgresConfig holds PostgreSQL connection parameters for the run journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// AuditEvents journals every store event, not only the final report.
	AuditEvents bool `toml:"audit_events"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveReports bool   `toml:"archive_reports"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP reporting API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	// Requires redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Enabled reports whether any notification channel is configured.
func (n NotifyConfig) Enabled() bool {
	return (n.TelegramToken != "" && n.TelegramChatID != "") || n.DiscordWebhookURL != ""
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "simulate",
		LogLevel: "info",
		RunName:  "default",
		Feed: FeedConfig{
			Type:         "tcp",
			Addr:         "127.0.0.1:9999",
			Stream:       "ticks",
			Timezone:     "UTC",
			DialAttempts: 5,
			DialBackoff:  duration{500 * time.Millisecond},
		},
		Strategy: StrategyConfig{
			Active: []string{"bollinger_mean_reversion"},
			Size:   1,
			Bollinger: BollingerConfig{
				Window:    20,
				NumStdDev: 2,
			},
			VolumeFade: VolumeFadeConfig{
				VolumeWindow:  10,
				MinGapPercent: 0.05,
				MinBodyRatio:  0.10,
				MaxVolumeZ:    -1.5,
				MinRewardRisk: 1.5,
				OptionType:    "CE",
			},
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			KeyPrefix:     "tickbot:",
			LockTTL:       duration{30 * time.Second},
			EventsChannel: "positions",
			EventsStream:  "events",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickbot-data",
			ForcePathStyle: true,
			ArchiveReports: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"exited", "finalized"},
		},
	}
}

// Valid values for the enumerated fields.
var (
	validModes     = map[string]bool{"simulate": true, "monitor": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFeeds     = map[string]bool{"tcp": true, "ws": true, "csv": true, "s3": true, "redis": true}
	knownStrategy  = map[string]bool{"bollinger_mean_reversion": true, "volume_fade": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.RunName) == "" {
		errs = append(errs, "run_name must not be empty")
	}

	// Feed
	switch t := strings.ToLower(c.Feed.Type); {
	case !validFeeds[t]:
		errs = append(errs, fmt.Sprintf("feed: unknown type %q (valid: tcp, ws, csv, s3, redis)", c.Feed.Type))
	case t == "tcp" && c.Feed.Addr == "":
		errs = append(errs, "feed: addr is required for type tcp")
	case t == "ws" && c.Feed.URL == "":
		errs = append(errs, "feed: url is required for type ws")
	case t == "csv" && c.Feed.Path == "":
		errs = append(errs, "feed: path is required for type csv")
	case t == "s3" && c.Feed.S3Key == "":
		errs = append(errs, "feed: s3_key is required for type s3")
	case t == "s3" && !c.S3.Enabled:
		errs = append(errs, "feed: type s3 requires s3.enabled")
	case t == "redis" && c.Feed.Stream == "":
		errs = append(errs, "feed: stream is required for type redis")
	case t == "redis" && !c.Redis.Enabled:
		errs = append(errs, "feed: type redis requires redis.enabled")
	}
	if c.Feed.Timezone != "" {
		if _, err := time.LoadLocation(c.Feed.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("feed: timezone %q: %v", c.Feed.Timezone, err))
		}
	}
	if c.Feed.DialAttempts < 1 {
		errs = append(errs, "feed: dial_attempts must be >= 1")
	}

	// Strategy
	if len(c.Strategy.Active) == 0 {
		errs = append(errs, "strategy: active must list at least one strategy")
	}
	for _, name := range c.Strategy.Active {
		if !knownStrategy[name] {
			errs = append(errs, fmt.Sprintf("strategy: unknown strategy %q", name))
		}
	}
	if c.Strategy.Size < 0 {
		errs = append(errs, "strategy: size must be >= 0")
	}
	if c.Strategy.Bollinger.Window < 2 {
		errs = append(errs, "strategy.bollinger: window must be >= 2")
	}
	if c.Strategy.Bollinger.NumStdDev <= 0 {
		errs = append(errs, "strategy.bollinger: num_std_dev must be > 0")
	}
	if c.Strategy.VolumeFade.VolumeWindow < 2 {
		errs = append(errs, "strategy.volume_fade: volume_window must be >= 2")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}
	if strings.EqualFold(c.Mode, "monitor") && !c.Server.Enabled {
		errs = append(errs, "mode monitor requires server.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
