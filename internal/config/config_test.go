package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.SlotLockTTL)
	assert.Equal(t, time.Minute, cfg.ReminderPollInterval)
	assert.Equal(t, 100, cfg.ReminderDispatchBatch)
	assert.Equal(t, "sms", cfg.ReminderChannel)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Zero(t, cfg.RateLimitBurst)
	assert.Nil(t, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REMINDER_POLL_INTERVAL", "30s")
	t.Setenv("REMINDER_DISPATCH_BATCH", "25")
	t.Setenv("REMINDER_CHANNEL", " Email ")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "10")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReminderPollInterval)
	assert.Equal(t, 25, cfg.ReminderDispatchBatch)
	assert.Equal(t, "email", cfg.ReminderChannel)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("REMINDER_DISPATCH_BATCH", "lots")
	t.Setenv("REMINDER_POLL_INTERVAL", "soon")
	t.Setenv("REDIS_TLS", "yep")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg := Load()

	assert.Equal(t, 100, cfg.ReminderDispatchBatch)
	assert.Equal(t, time.Minute, cfg.ReminderPollInterval)
	assert.False(t, cfg.RedisTLS)
	assert.Zero(t, cfg.RateLimitRPS)
}
