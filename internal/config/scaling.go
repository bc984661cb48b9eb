package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ScalingConfig selects the shared-state backend used across instances
type ScalingConfig struct {
	// Backend is one of: local, postgres, redis
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

// RateLimitConfig contains per-caller bundling quotas
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// UserMax is the number of bundles an authenticated user may request per window
	UserMax int `mapstructure:"user_max"`
	// GuestMax is the number of bundles an anonymous client IP may request per window
	GuestMax int           `mapstructure:"guest_max"`
	Window   time.Duration `mapstructure:"window"`
	// CleanupSchedule is a cron expression for purging expired counters
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

func setScalingDefaults() {
	viper.SetDefault("scaling.backend", "local")
	viper.SetDefault("scaling.redis_url", "")

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.user_max", 50)
	viper.SetDefault("ratelimit.guest_max", 10)
	viper.SetDefault("ratelimit.window", "5h")
	viper.SetDefault("ratelimit.cleanup_schedule", "*/10 * * * *")
}

// Validate validates scaling configuration
func (sc *ScalingConfig) Validate() error {
	switch sc.Backend {
	case "", "local", "postgres":
	case "redis":
		if sc.RedisURL == "" {
			return fmt.Errorf("redis_url is required when backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid scaling backend: %s (must be one of: local, postgres, redis)", sc.Backend)
	}
	return nil
}

// Validate validates rate limit configuration
func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.UserMax <= 0 {
		return fmt.Errorf("user_max must be positive, got: %d", rc.UserMax)
	}
	if rc.GuestMax <= 0 {
		return fmt.Errorf("guest_max must be positive, got: %d", rc.GuestMax)
	}
	if rc.Window <= 0 {
		return fmt.Errorf("window must be positive, got: %v", rc.Window)
	}
	return nil
}
