// Package config defines the top-level configuration for the margin daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARGIND_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Feed     FeedConfig     `toml:"feed"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Server   ServerConfig   `toml:"server"`
	SMTP     SMTPConfig     `toml:"smtp"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade
// history store.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for book snapshots.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the risk engine parameters.
type EngineConfig struct {
	// InitialBalance is seeded for owners on their first trade.
	InitialBalance float64 `toml:"initial_balance"`

	// MaintenanceMarginRatio is the equity/margin floor below which a
	// position is liquidated.
	MaintenanceMarginRatio float64 `toml:"maintenance_margin_ratio"`

	// ReturnMarginOnClose credits the freed margin together with realized
	// PnL on close.
	ReturnMarginOnClose bool `toml:"return_margin_on_close"`

	LiquidationRetries int      `toml:"liquidation_retries"`
	LiquidationBackoff duration `toml:"liquidation_backoff"`
}

// FeedConfig holds the exchange price feed parameters.
type FeedConfig struct {
	WsURL  string   `toml:"ws_url"`
	Assets []string `toml:"assets"`
}

// GatewayConfig holds correlation gateway parameters.
type GatewayConfig struct {
	// AwaitTimeout bounds how long a request waits for the engine's reply
	// before the outcome is reported as indeterminate.
	AwaitTimeout duration `toml:"await_timeout"`

	// DefaultTolerance is the slippage tolerance applied when a request
	// does not specify one.
	DefaultTolerance float64 `toml:"default_tolerance"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	BaseURL         string   `toml:"base_url"`
	CORSOrigins     []string `toml:"cors_origins"`
	JWTSecret       string   `toml:"jwt_secret"`
	JWTIssuer       string   `toml:"jwt_issuer"`
	LinkTTL         duration `toml:"link_ttl"`
	SessionTTL      duration `toml:"session_ttl"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// SMTPConfig holds outbound mail parameters for magic links. When Host is
// empty, links are written to the log instead.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// SnapshotConfig holds book snapshot parameters.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "margind",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "margind-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			InitialBalance:         5000,
			MaintenanceMarginRatio: 0.99,
			ReturnMarginOnClose:    true,
			LiquidationRetries:     3,
			LiquidationBackoff:     duration{250 * time.Millisecond},
		},
		Feed: FeedConfig{
			WsURL:  "wss://ws.backpack.exchange/",
			Assets: []string{"BTC", "ETH", "SOL"},
		},
		Gateway: GatewayConfig{
			AwaitTimeout:     duration{5 * time.Second},
			DefaultTolerance: 0.005,
		},
		Server: ServerConfig{
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			JWTIssuer:       "margind",
			LinkTTL:         duration{15 * time.Minute},
			SessionTTL:      duration{24 * time.Hour},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		SMTP: SMTPConfig{
			Port: 587,
			From: "no-reply@localhost",
		},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Interval: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"gateway": true,
	"engine":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for inconsistencies and returns a single
// error aggregating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: gateway, engine, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Redis backs the price cache, command channels, and rate limiter in
	// every mode.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	mode := strings.ToLower(c.Mode)
	runsEngine := mode == "engine" || mode == "full"
	runsGateway := mode == "gateway" || mode == "full"

	if runsEngine {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Engine.InitialBalance <= 0 {
			errs = append(errs, "engine: initial_balance must be positive")
		}
		if c.Engine.MaintenanceMarginRatio <= 0 || c.Engine.MaintenanceMarginRatio >= 1 {
			errs = append(errs, fmt.Sprintf("engine: maintenance_margin_ratio must be in (0, 1), got %g", c.Engine.MaintenanceMarginRatio))
		}
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
		if len(c.Feed.Assets) == 0 {
			errs = append(errs, "feed: at least one asset must be configured")
		}
	}

	if runsGateway {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be in (0, 65535], got %d", c.Server.Port))
		}
		if c.Server.JWTSecret == "" {
			errs = append(errs, "server: jwt_secret must not be empty")
		}
		if c.Gateway.DefaultTolerance < 0 {
			errs = append(errs, "gateway: default_tolerance must not be negative")
		}
	}

	if c.Snapshot.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when snapshots are enabled")
		}
		if c.Snapshot.Interval.Duration <= 0 {
			errs = append(errs, "snapshot: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
