package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100_000, cfg.Intake.QueueCapacity)
	assert.Equal(t, 10, cfg.Intake.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Intake.FlushInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Intake.BackpressureDelay)
	assert.Equal(t, 3, cfg.Cancel.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Cancel.InitialInterval)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Features.UseLegacyCancelFormat)
	assert.False(t, cfg.Features.BotTradingHalted)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ORDERDESK_LOG_LEVEL", "debug")
	t.Setenv("ORDERDESK_DATABASE_HOST", "db.internal")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}
