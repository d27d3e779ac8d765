package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults, loads .env if
// present, and applies TICKBOT_* environment overrides. An empty path uses
// the defaults alone. Keys the file sets that no field accepts are an error.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from TICKBOT_* variables that
// are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "TICKBOT_MODE")
	setStr(&cfg.LogLevel, "TICKBOT_LOG_LEVEL")
	setStr(&cfg.RunName, "TICKBOT_RUN_NAME")

	// ── Feed ──
	setStr(&cfg.Feed.Type, "TICKBOT_FEED_TYPE")
	setStr(&cfg.Feed.Addr, "TICKBOT_FEED_ADDR")
	setStr(&cfg.Feed.URL, "TICKBOT_FEED_URL")
	setStr(&cfg.Feed.Path, "TICKBOT_FEED_PATH")
	setStr(&cfg.Feed.S3Key, "TICKBOT_FEED_S3_KEY")
	setStr(&cfg.Feed.Stream, "TICKBOT_FEED_STREAM")
	setStr(&cfg.Feed.Symbol, "TICKBOT_FEED_SYMBOL")
	setStr(&cfg.Feed.Timezone, "TICKBOT_FEED_TIMEZONE")
	setInt(&cfg.Feed.DialAttempts, "TICKBOT_FEED_DIAL_ATTEMPTS")
	setDuration(&cfg.Feed.DialBackoff, "TICKBOT_FEED_DIAL_BACKOFF")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "TICKBOT_STRATEGY_ACTIVE")
	setFloat64(&cfg.Strategy.Size, "TICKBOT_STRATEGY_SIZE")
	setBool(&cfg.Strategy.Concurrent, "TICKBOT_STRATEGY_CONCURRENT")
	setInt(&cfg.Strategy.Bollinger.Window, "TICKBOT_STRATEGY_BOLLINGER_WINDOW")
	setFloat64(&cfg.Strategy.Bollinger.NumStdDev, "TICKBOT_STRATEGY_BOLLINGER_NUM_STD_DEV")
	setInt(&cfg.Strategy.VolumeFade.VolumeWindow, "TICKBOT_STRATEGY_VOLUME_FADE_VOLUME_WINDOW")
	setFloat64(&cfg.Strategy.VolumeFade.MinGapPercent, "TICKBOT_STRATEGY_VOLUME_FADE_MIN_GAP_PERCENT")
	setStr(&cfg.Strategy.VolumeFade.OptionType, "TICKBOT_STRATEGY_VOLUME_FADE_OPTION_TYPE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TICKBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TICKBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TICKBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TICKBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "TICKBOT_REDIS_LOCK_TTL")
	setBool(&cfg.Redis.MirrorPrices, "TICKBOT_REDIS_MIRROR_PRICES")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TICKBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TICKBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // conventional alias
	setStr(&cfg.Postgres.Host, "TICKBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "TICKBOT_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.AuditEvents, "TICKBOT_POSTGRES_AUDIT_EVENTS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TICKBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TICKBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveReports, "TICKBOT_S3_ARCHIVE_REPORTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TICKBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TICKBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TICKBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TICKBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TICKBOT_NOTIFY_EVENTS")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// set, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
