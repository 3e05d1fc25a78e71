package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/engagement")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WEBHOOK_SECRET", "shh")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.GetDedupeTTL())
	assert.Equal(t, "21:00", cfg.GetQuietHoursStart())
	assert.Equal(t, "08:00", cfg.GetQuietHoursEnd())
	assert.Equal(t, 3*time.Hour, cfg.GetFallbackDelay())
	assert.Equal(t, 24*time.Hour, cfg.GetReactivationDelay())
	assert.Equal(t, 80, cfg.GetHandoffScoreThreshold())
	assert.Equal(t, ":9091", cfg.GetMetricsAddr())
	assert.False(t, cfg.IsClassifierEnabled())
}

func TestDedupeTTLMinutesOverrideHours(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEDUPE_TTL_HOURS", "2")
	t.Setenv("DEDUPE_TTL_MINUTES", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.GetDedupeTTL())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string][2]string{
		"bad timezone":    {"DEFAULT_TIMEZONE", "Mars/Olympus"},
		"bad quiet start": {"QUIET_HOURS_START", "9pm"},
		"zero dedupe ttl": {"DEDUPE_TTL_HOURS", "0"},
		"delays inverted": {"REACTIVATION_DELAY", "1h"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(kv[0], kv[1])

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "WEBHOOK_SECRET")
}
