package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Server.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsBadMaintenanceRatio(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.MaintenanceMarginRatio = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance_margin_ratio")
}

func TestValidateGatewayNeedsJWTSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "gateway"
	cfg.Server.JWTSecret = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestValidateEngineModeSkipsServerChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "engine"
	cfg.Server.JWTSecret = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidateSnapshotNeedsBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Snapshot.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARGIND_MODE", "engine")
	t.Setenv("MARGIND_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MARGIND_ENGINE_INITIAL_BALANCE", "10000")
	t.Setenv("MARGIND_ENGINE_RETURN_MARGIN_ON_CLOSE", "false")
	t.Setenv("MARGIND_GATEWAY_AWAIT_TIMEOUT", "2s")
	t.Setenv("MARGIND_FEED_ASSETS", "BTC, ETH")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 10000.0, cfg.Engine.InitialBalance)
	assert.False(t, cfg.Engine.ReturnMarginOnClose)
	assert.Equal(t, 2*time.Second, cfg.Gateway.AwaitTimeout.Duration)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Feed.Assets)
}

func TestEnvOverridesIgnoreInvalidValues(t *testing.T) {
	t.Setenv("MARGIND_ENGINE_INITIAL_BALANCE", "lots")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 5000.0, cfg.Engine.InitialBalance, "unparseable value keeps the default")
}
