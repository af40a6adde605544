package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMigrationsAreOptIn(t *testing.T) {
	v := loadConfig()
	assert.False(t, v.GetBool("postgres.migrate"))
	assert.Equal(t, "profiles", v.GetString("postgres.schema"))

	t.Setenv("ACCESSKIT_POSTGRES_MIGRATE", "true")
	assert.True(t, loadConfig().GetBool("postgres.migrate"))
}

func TestControllerConfigFromEnv(t *testing.T) {
	t.Setenv("ACCESSKIT_POLL_MAX_ATTEMPTS", "3")
	t.Setenv("ACCESSKIT_POLL_INTERVAL", "2s")
	cfg := controllerConfig(loadConfig())
	assert.Equal(t, 3, cfg.Poll.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Debounce)
	assert.Equal(t, "en", cfg.Language)
}
