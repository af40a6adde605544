package main

import (
	"strings"
	"time"

	accessgin "github.com/PaulFidika/accesskit/adapters/gin"
	"github.com/PaulFidika/accesskit/core"
	"github.com/PaulFidika/accesskit/poller"
	memorylimiter "github.com/PaulFidika/accesskit/ratelimit/memory"
	"github.com/spf13/viper"
)

// loadConfig reads settings from ACCESSKIT_* environment variables, e.g.
// ACCESSKIT_HTTP_ADDR or ACCESSKIT_POLL_MAX_ATTEMPTS.
func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "accesskit:")
	v.SetDefault("redis.intent_ttl", 24*time.Hour)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.schema", "profiles")
	v.SetDefault("postgres.migrate", false)

	v.SetDefault("jwt.secret", "dev-secret-change-me-0123456789")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.dev_user", "")

	v.SetDefault("poll.debounce", 500*time.Millisecond)
	v.SetDefault("poll.interval", 10*time.Second)
	v.SetDefault("poll.max_attempts", 8)
	v.SetDefault("language.default", "en")

	v.SetDefault("sweep.schedule", "@every 1h")
	v.SetDefault("sweep.max_age", 24*time.Hour)

	v.SetDefault("ratelimit.payment_return", 10)
	v.SetDefault("ratelimit.profile_refresh", 20)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetEnvPrefix("ACCESSKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func controllerConfig(v *viper.Viper) *core.Config {
	return &core.Config{
		Poll: poller.Config{
			Debounce:    v.GetDuration("poll.debounce"),
			Interval:    v.GetDuration("poll.interval"),
			MaxAttempts: v.GetInt("poll.max_attempts"),
		},
		Language: v.GetString("language.default"),
	}
}

func sweeperConfig(v *viper.Viper) *core.SweeperConfig {
	return &core.SweeperConfig{
		Schedule: v.GetString("sweep.schedule"),
		MaxAge:   v.GetDuration("sweep.max_age"),
	}
}

func limits(v *viper.Viper) map[string]memorylimiter.Limit {
	w := v.GetDuration("ratelimit.window")
	return map[string]memorylimiter.Limit{
		accessgin.RLPaymentReturn:  {Limit: v.GetInt("ratelimit.payment_return"), Window: w},
		accessgin.RLProfileRefresh: {Limit: v.GetInt("ratelimit.profile_refresh"), Window: w},
	}
}
