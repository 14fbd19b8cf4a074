package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARGIND_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARGIND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARGIND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARGIND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARGIND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARGIND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARGIND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARGIND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARGIND_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARGIND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARGIND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARGIND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARGIND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGIND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGIND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGIND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGIND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGIND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARGIND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGIND_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGIND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGIND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGIND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGIND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGIND_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setFloat64(&cfg.Engine.InitialBalance, "MARGIND_ENGINE_INITIAL_BALANCE")
	setFloat64(&cfg.Engine.MaintenanceMarginRatio, "MARGIND_ENGINE_MAINTENANCE_MARGIN_RATIO")
	setBool(&cfg.Engine.ReturnMarginOnClose, "MARGIND_ENGINE_RETURN_MARGIN_ON_CLOSE")
	setInt(&cfg.Engine.LiquidationRetries, "MARGIND_ENGINE_LIQUIDATION_RETRIES")
	setDuration(&cfg.Engine.LiquidationBackoff, "MARGIND_ENGINE_LIQUIDATION_BACKOFF")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "MARGIND_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Assets, "MARGIND_FEED_ASSETS")

	// ── Gateway ──
	setDuration(&cfg.Gateway.AwaitTimeout, "MARGIND_GATEWAY_AWAIT_TIMEOUT")
	setFloat64(&cfg.Gateway.DefaultTolerance, "MARGIND_GATEWAY_DEFAULT_TOLERANCE")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARGIND_SERVER_PORT")
	setStr(&cfg.Server.BaseURL, "MARGIND_SERVER_BASE_URL")
	setStringSlice(&cfg.Server.CORSOrigins, "MARGIND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.JWTSecret, "MARGIND_SERVER_JWT_SECRET")
	setStr(&cfg.Server.JWTIssuer, "MARGIND_SERVER_JWT_ISSUER")
	setDuration(&cfg.Server.LinkTTL, "MARGIND_SERVER_LINK_TTL")
	setDuration(&cfg.Server.SessionTTL, "MARGIND_SERVER_SESSION_TTL")
	setInt(&cfg.Server.RateLimit, "MARGIND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "MARGIND_SERVER_RATE_LIMIT_WINDOW")

	// ── SMTP ──
	setStr(&cfg.SMTP.Host, "MARGIND_SMTP_HOST")
	setInt(&cfg.SMTP.Port, "MARGIND_SMTP_PORT")
	setStr(&cfg.SMTP.Username, "MARGIND_SMTP_USERNAME")
	setStr(&cfg.SMTP.Password, "MARGIND_SMTP_PASSWORD")
	setStr(&cfg.SMTP.From, "MARGIND_SMTP_FROM")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "MARGIND_SNAPSHOT_ENABLED")
	setDuration(&cfg.Snapshot.Interval, "MARGIND_SNAPSHOT_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARGIND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGIND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGIND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGIND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARGIND_MODE")
	setStr(&cfg.LogLevel, "MARGIND_LOG_LEVEL")
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
