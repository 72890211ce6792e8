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

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDINGBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDINGBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Format, "FUNDINGBOT_LOG_FORMAT")
	setStr(&cfg.Log.File, "FUNDINGBOT_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "FUNDINGBOT_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "FUNDINGBOT_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "FUNDINGBOT_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "FUNDINGBOT_LOG_COMPRESS")

	// ── Scan ──
	setStr(&cfg.Scan.Profile, "FUNDINGBOT_SCAN_PROFILE")
	setDuration(&cfg.Scan.Interval, "FUNDINGBOT_SCAN_INTERVAL")
	setDuration(&cfg.Scan.ErrorBackoff, "FUNDINGBOT_SCAN_ERROR_BACKOFF")
	setStringSlice(&cfg.Scan.Instruments, "FUNDINGBOT_SCAN_INSTRUMENTS")
	setInt(&cfg.Scan.Workers, "FUNDINGBOT_SCAN_WORKERS")
	setInt(&cfg.Scan.HistoryPoints, "FUNDINGBOT_SCAN_HISTORY_POINTS")
	setStr(&cfg.Scan.Feed, "FUNDINGBOT_SCAN_FEED")
	setStr(&cfg.Scan.FeedFile, "FUNDINGBOT_SCAN_FEED_FILE")
	setBool(&cfg.Scan.Lock, "FUNDINGBOT_SCAN_LOCK")
	setDuration(&cfg.Scan.LockTTL, "FUNDINGBOT_SCAN_LOCK_TTL")
	setStr(&cfg.Scan.NotifyMinConfidence, "FUNDINGBOT_SCAN_NOTIFY_MIN_CONFIDENCE")
	setDuration(&cfg.Scan.AlertCooldown, "FUNDINGBOT_SCAN_ALERT_COOLDOWN")
	setFloat64Ptr(&cfg.Scan.Overrides.MinAnnualRate, "FUNDINGBOT_SCAN_MIN_ANNUAL_RATE")
	setFloat64Ptr(&cfg.Scan.Overrides.MaxRiskScore, "FUNDINGBOT_SCAN_MAX_RISK_SCORE")
	setFloat64Ptr(&cfg.Scan.Overrides.MinVolume, "FUNDINGBOT_SCAN_MIN_VOLUME")
	setFloat64Ptr(&cfg.Scan.Overrides.MaxSpreadBps, "FUNDINGBOT_SCAN_MAX_SPREAD_BPS")

	// ── Engine ──
	setFloat64(&cfg.Engine.Capital.BaseNotionalUSD, "FUNDINGBOT_ENGINE_BASE_NOTIONAL_USD")
	setFloat64(&cfg.Engine.Risk.ExtremeRateThreshold, "FUNDINGBOT_ENGINE_EXTREME_RATE_THRESHOLD")
	setFloat64(&cfg.Engine.Confidence.HighRateFloor, "FUNDINGBOT_ENGINE_HIGH_RATE_FLOOR")
	setFloat64(&cfg.Engine.Confidence.LowRateFloor, "FUNDINGBOT_ENGINE_LOW_RATE_FLOOR")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FUNDINGBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FUNDINGBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDINGBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDINGBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDINGBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDINGBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDINGBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDINGBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDINGBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDINGBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDINGBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUNDINGBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "FUNDINGBOT_REDIS_URL")
	setStr(&cfg.Redis.Addr, "FUNDINGBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDINGBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDINGBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDINGBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDINGBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDINGBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DialTimeout, "FUNDINGBOT_REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.SnapshotTTL, "FUNDINGBOT_REDIS_SNAPSHOT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDINGBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDINGBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDINGBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDINGBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "FUNDINGBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "FUNDINGBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDINGBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDINGBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDINGBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDINGBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDINGBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDINGBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDINGBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimitRPS, "FUNDINGBOT_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "FUNDINGBOT_SERVER_RATE_LIMIT_BURST")
	setBool(&cfg.Server.RateLimitShared, "FUNDINGBOT_SERVER_RATE_LIMIT_SHARED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDINGBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDINGBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDINGBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDINGBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDINGBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDINGBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64Ptr(dst **float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
