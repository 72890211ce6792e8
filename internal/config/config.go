// Package config defines the top-level configuration for the funding scanner
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDINGBOT_* environment variables.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Scan     ScanConfig     `toml:"scan"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LogConfig controls log output. When File is set, logs are also written to a
// size-rotated file.
type LogConfig struct {
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ScanConfig controls the scan loop and its snapshot feed.
type ScanConfig struct {
	// Profile names a preset: normal, aggressive, conservative, ultra_aggressive.
	Profile      string   `toml:"profile"`
	Interval     duration `toml:"interval"`
	ErrorBackoff duration `toml:"error_backoff"`
	Instruments  []string `toml:"instruments"`
	Workers      int      `toml:"workers"`
	// HistoryPoints is how many settled funding rates are attached to each
	// snapshot from the history store.
	HistoryPoints int `toml:"history_points"`
	// Feed selects the snapshot source: "redis" or "file".
	Feed     string `toml:"feed"`
	FeedFile string `toml:"feed_file"`
	// Lock makes replicas take a Redis lock per cycle so only one scans.
	Lock    bool     `toml:"lock"`
	LockTTL duration `toml:"lock_ttl"`
	// NotifyMinConfidence is the lowest level that triggers a notification.
	NotifyMinConfidence string `toml:"notify_min_confidence"`
	// AlertCooldown is how long an instrument and direction stay quiet after
	// being alerted. Zero alerts every cycle.
	AlertCooldown duration `toml:"alert_cooldown"`

	Overrides ProfileOverridesConfig `toml:"overrides"`
}

// ProfileOverridesConfig replaces individual preset thresholds.
type ProfileOverridesConfig struct {
	MinAnnualRate *float64 `toml:"min_annual_rate"`
	MaxRiskScore  *float64 `toml:"max_risk_score"`
	MinVolume     *float64 `toml:"min_volume"`
	MaxSpreadBps  *float64 `toml:"max_spread_bps"`
}

// EngineConfig holds every tunable of the opportunity evaluator.
type EngineConfig struct {
	Risk       RiskConfig       `toml:"risk"`
	Confidence ConfidenceConfig `toml:"confidence"`
	Capital    CapitalConfig    `toml:"capital"`
}

// RiskConfig holds risk factor weights and normalisation bounds.
type RiskConfig struct {
	VolatilityWeight     float64 `toml:"volatility_weight"`
	LiquidityWeight      float64 `toml:"liquidity_weight"`
	SpreadWeight         float64 `toml:"spread_weight"`
	ExtremeRateWeight    float64 `toml:"extreme_rate_weight"`
	VolatilitySaturation float64 `toml:"volatility_saturation"`
	VolumeFloor          float64 `toml:"volume_floor"`
	VolumeCeiling        float64 `toml:"volume_ceiling"`
	SpreadSaturationBps  float64 `toml:"spread_saturation_bps"`
	ExtremeRateThreshold float64 `toml:"extreme_rate_threshold"`
}

// ConfidenceConfig holds the confidence classifier thresholds.
type ConfidenceConfig struct {
	HighRateFloor        float64 `toml:"high_rate_floor"`
	LowRateFloor         float64 `toml:"low_rate_floor"`
	LowRiskCeiling       float64 `toml:"low_risk_ceiling"`
	HighRiskFloor        float64 `toml:"high_risk_floor"`
	MinHistoryPoints     int     `toml:"min_history_points"`
	MinConsistentPeriods int     `toml:"min_consistent_periods"`
}

// CapitalConfig sizes the minimum capital requirement.
type CapitalConfig struct {
	BaseNotionalUSD float64            `toml:"base_notional_usd"`
	MinPositionSize map[string]float64 `toml:"min_position_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled bool `toml:"enabled"`
	// URL (redis:// or rediss://) replaces addr, password, db and
	// tls_enabled when set.
	URL         string   `toml:"url"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	DialTimeout duration `toml:"dial_timeout"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the scan archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`

	// RateLimitShared counts requests in Redis so replicas share one budget.
	RateLimitShared bool `toml:"rate_limit_shared"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	risk := arbitrage.DefaultRiskConfig()
	conf := arbitrage.DefaultConfidenceConfig()
	capital := arbitrage.DefaultCapitalConfig()

	return Config{
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Scan: ScanConfig{
			Profile:             arbitrage.ProfileNormal,
			Interval:            duration{30 * time.Second},
			ErrorBackoff:        duration{60 * time.Second},
			Instruments:         []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
			Workers:             0,
			HistoryPoints:       10,
			Feed:                "redis",
			LockTTL:             duration{25 * time.Second},
			NotifyMinConfidence: "HIGH",
			AlertCooldown:       duration{8 * time.Hour},
		},
		Engine: EngineConfig{
			Risk: RiskConfig{
				VolatilityWeight:     risk.VolatilityWeight,
				LiquidityWeight:      risk.LiquidityWeight,
				SpreadWeight:         risk.SpreadWeight,
				ExtremeRateWeight:    risk.ExtremeRateWeight,
				VolatilitySaturation: risk.VolatilitySaturation,
				VolumeFloor:          risk.VolumeFloor,
				VolumeCeiling:        risk.VolumeCeiling,
				SpreadSaturationBps:  risk.SpreadSaturationBps,
				ExtremeRateThreshold: risk.ExtremeRateThreshold,
			},
			Confidence: ConfidenceConfig{
				HighRateFloor:        conf.HighRateFloor,
				LowRateFloor:         conf.LowRateFloor,
				LowRiskCeiling:       conf.LowRiskCeiling,
				HighRiskFloor:        conf.HighRiskFloor,
				MinHistoryPoints:     conf.MinHistoryPoints,
				MinConsistentPeriods: conf.MinConsistentPeriods,
			},
			Capital: CapitalConfig{
				BaseNotionalUSD: capital.BaseNotionalUSD,
				MinPositionSize: capital.MinPositionSize,
			},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			SnapshotTTL: duration{10 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundingbot-data",
			Prefix:         "scans",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_high", "scan_failed"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeScan   = "scan"
	ModeOnce   = "once"
	ModeServer = "server"
	ModeFull   = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeScan:   true,
	ModeOnce:   true,
	ModeServer: true,
	ModeFull:   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// EvaluatorConfig converts the engine section into the evaluator's config.
func (c *Config) EvaluatorConfig() arbitrage.EvaluatorConfig {
	r, cf, cp := c.Engine.Risk, c.Engine.Confidence, c.Engine.Capital
	return arbitrage.EvaluatorConfig{
		Risk: arbitrage.RiskConfig{
			VolatilityWeight:     r.VolatilityWeight,
			LiquidityWeight:      r.LiquidityWeight,
			SpreadWeight:         r.SpreadWeight,
			ExtremeRateWeight:    r.ExtremeRateWeight,
			VolatilitySaturation: r.VolatilitySaturation,
			VolumeFloor:          r.VolumeFloor,
			VolumeCeiling:        r.VolumeCeiling,
			SpreadSaturationBps:  r.SpreadSaturationBps,
			ExtremeRateThreshold: r.ExtremeRateThreshold,
		},
		Confidence: arbitrage.ConfidenceConfig{
			HighRateFloor:        cf.HighRateFloor,
			LowRateFloor:         cf.LowRateFloor,
			LowRiskCeiling:       cf.LowRiskCeiling,
			HighRiskFloor:        cf.HighRiskFloor,
			MinHistoryPoints:     cf.MinHistoryPoints,
			MinConsistentPeriods: cf.MinConsistentPeriods,
		},
		Capital: arbitrage.CapitalConfig{
			BaseNotionalUSD: cp.BaseNotionalUSD,
			MinPositionSize: cp.MinPositionSize,
		},
	}
}

// ScanProfile resolves the configured preset and applies overrides.
func (c *Config) ScanProfile() (arbitrage.ScanProfile, error) {
	p, err := arbitrage.Preset(c.Scan.Profile)
	if err != nil {
		return arbitrage.ScanProfile{}, err
	}
	o := c.Scan.Overrides
	p = p.WithOverrides(arbitrage.ProfileOverrides{
		MinAnnualRate: o.MinAnnualRate,
		MaxRiskScore:  o.MaxRiskScore,
		MinVolume:     o.MinVolume,
		MaxSpreadBps:  o.MaxSpreadBps,
	})
	if err := p.Validate(); err != nil {
		return arbitrage.ScanProfile{}, err
	}
	return p, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	// Mode
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, once, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Log
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", c.Log.Format))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		errs = append(errs, "log: max_size_mb must be >= 1 when file is set")
	}

	// Scan
	if _, err := c.ScanProfile(); err != nil {
		errs = append(errs, "scan: "+err.Error())
	}
	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}
	if c.Scan.ErrorBackoff.Duration < 0 {
		errs = append(errs, "scan: error_backoff must be >= 0")
	}
	if c.Scan.Workers < 0 {
		errs = append(errs, "scan: workers must be >= 0 (0 = GOMAXPROCS)")
	}
	if c.Scan.HistoryPoints < 1 {
		errs = append(errs, "scan: history_points must be >= 1")
	}
	switch strings.ToLower(c.Scan.Feed) {
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "scan: feed \"redis\" requires redis.enabled")
		}
		if len(c.Scan.Instruments) == 0 {
			errs = append(errs, "scan: instruments must not be empty for the redis feed")
		}
	case "file":
		if strings.TrimSpace(c.Scan.FeedFile) == "" {
			errs = append(errs, "scan: feed_file is required for the file feed")
		}
	default:
		errs = append(errs, fmt.Sprintf("scan: unknown feed %q (valid: redis, file)", c.Scan.Feed))
	}
	if c.Scan.Lock {
		if !c.Redis.Enabled {
			errs = append(errs, "scan: lock requires redis.enabled")
		}
		if c.Scan.LockTTL.Duration <= 0 {
			errs = append(errs, "scan: lock_ttl must be > 0")
		}
	}
	if c.Scan.AlertCooldown.Duration < 0 {
		errs = append(errs, "scan: alert_cooldown must be >= 0")
	}
	if c.Scan.NotifyMinConfidence != "" {
		switch strings.ToUpper(c.Scan.NotifyMinConfidence) {
		case "LOW", "MEDIUM", "HIGH":
		default:
			errs = append(errs, fmt.Sprintf("scan: unknown notify_min_confidence %q", c.Scan.NotifyMinConfidence))
		}
	}

	// Engine
	ec := c.EvaluatorConfig()
	if err := ec.Risk.Validate(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if err := ec.Confidence.Validate(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if err := ec.Capital.Validate(); err != nil {
		errs = append(errs, "engine: "+err.Error())
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.SnapshotTTL.Duration < 0 {
			errs = append(errs, "redis: snapshot_ttl must be >= 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || mode == ModeServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server: rate_limit_rps must be >= 0 (0 disables)")
		}
		if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
			errs = append(errs, "server: rate_limit_burst must be >= 1 when rate limiting is on")
		}
		if c.Server.RateLimitShared && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit_shared requires redis.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
