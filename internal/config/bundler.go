package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// BundlerConfig contains artifact bundling pipeline settings
type BundlerConfig struct {
	Bucket string `mapstructure:"bucket"`
	// SignedURLTTL is the requested lifetime of bundle URLs; providers may clamp it
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
	// CDNProviders is the probe order; names must be known to the resolver
	CDNProviders      []string      `mapstructure:"cdn_providers"`
	CDNCheckTimeout   time.Duration `mapstructure:"cdn_check_timeout"`
	CDNRatePerSecond  float64       `mapstructure:"cdn_rate_per_second"`
	ProbeConcurrency  int           `mapstructure:"probe_concurrency"`
	CatalogFile       string        `mapstructure:"catalog_file"`
	Tailwind          bool          `mapstructure:"tailwind"`
	RecordMetricsRows bool          `mapstructure:"record_metrics_rows"`
}

// CacheConfig contains content-addressed bundle cache settings
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is one of: memory, postgres, redis
	Backend string `mapstructure:"backend"`
	// TTL bounds how long index entries are kept
	TTL time.Duration `mapstructure:"ttl"`
	// RefreshWindow is how close to expiry a cached URL may get before it is re-signed
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	// StoreTimeout bounds the detached background write after a bundle completes
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

func setBundlerDefaults() {
	viper.SetDefault("bundler.bucket", "artifact-bundles")
	viper.SetDefault("bundler.signed_url_ttl", "336h") // 14 days
	viper.SetDefault("bundler.cdn_providers", []string{"esm.sh", "jsdelivr", "unpkg"})
	viper.SetDefault("bundler.cdn_check_timeout", "3s")
	viper.SetDefault("bundler.cdn_rate_per_second", 20.0)
	viper.SetDefault("bundler.probe_concurrency", 8)
	viper.SetDefault("bundler.catalog_file", "")
	viper.SetDefault("bundler.tailwind", true)
	viper.SetDefault("bundler.record_metrics_rows", true)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.ttl", "336h")
	viper.SetDefault("cache.refresh_window", "24h")
	viper.SetDefault("cache.store_timeout", "10s")
}

// Validate validates bundler configuration
func (bc *BundlerConfig) Validate() error {
	if bc.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}
	if bc.SignedURLTTL <= 0 {
		return fmt.Errorf("signed_url_ttl must be positive, got: %v", bc.SignedURLTTL)
	}
	if len(bc.CDNProviders) == 0 {
		return fmt.Errorf("at least one cdn provider is required")
	}
	if bc.CDNCheckTimeout <= 0 {
		return fmt.Errorf("cdn_check_timeout must be positive, got: %v", bc.CDNCheckTimeout)
	}
	if bc.ProbeConcurrency < 0 {
		return fmt.Errorf("probe_concurrency cannot be negative, got: %d", bc.ProbeConcurrency)
	}
	return nil
}

// Validate validates cache configuration
func (cc *CacheConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}
	switch cc.Backend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be one of: memory, postgres, redis)", cc.Backend)
	}
	if cc.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got: %v", cc.TTL)
	}
	if cc.RefreshWindow < 0 {
		return fmt.Errorf("refresh_window cannot be negative, got: %v", cc.RefreshWindow)
	}
	return nil
}
