package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scaling   ScalingConfig   `mapstructure:"scaling"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Bundler   BundlerConfig   `mapstructure:"bundler"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	BaseURL   string          `mapstructure:"base_url"`
	Debug     bool            `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
	CORSOrigins  string        `mapstructure:"cors_origins"`
	// Per-IP requests per minute, enforced by each instance
	APIRateLimit      int `mapstructure:"api_rate_limit"`
	DownloadRateLimit int `mapstructure:"download_rate_limit"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
	SlowQuery       time.Duration `mapstructure:"slow_query_threshold"`
}

// AuthConfig contains caller authentication settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// Issuer and Audience, when set, must match the token claims
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
	// RequireOwnership enforces chat session and artifact ownership for non-guest callers
	RequireOwnership bool `mapstructure:"require_ownership"`
}

// StorageConfig contains object storage settings
type StorageConfig struct {
	Provider        string        `mapstructure:"provider"` // local or s3
	LocalPath       string        `mapstructure:"local_path"`
	S3Endpoint      string        `mapstructure:"s3_endpoint"`
	S3AccessKey     string        `mapstructure:"s3_access_key"`
	S3SecretKey     string        `mapstructure:"s3_secret_key"`
	S3Region        string        `mapstructure:"s3_region"`
	S3UseSSL        bool          `mapstructure:"s3_use_ssl"`
	S3PathStyle     bool          `mapstructure:"s3_path_style"` // required by MinIO and most self-hosted gateways
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	UploadRetries   int           `mapstructure:"upload_retries"`
	UploadBaseDelay time.Duration `mapstructure:"upload_base_delay"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("artifacts")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/artifacts")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARTIFACTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s") // streaming bundles can run long
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 2*1024*1024) // 2MB, code itself is capped at 500KB
	viper.SetDefault("server.cors_origins", "*")
	viper.SetDefault("server.api_rate_limit", 120)
	viper.SetDefault("server.download_rate_limit", 300)

	// Database defaults
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.database", "artifacts")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "1m")
	viper.SetDefault("database.slow_query_threshold", "1s")

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "your-secret-key-change-in-production")
	viper.SetDefault("auth.require_ownership", true)
	viper.SetDefault("auth.leeway", "30s")

	// Storage defaults
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local_path", "./storage")
	viper.SetDefault("storage.s3_region", "us-east-1")
	viper.SetDefault("storage.s3_use_ssl", true)
	viper.SetDefault("storage.s3_path_style", false)
	viper.SetDefault("storage.upload_timeout", "30s")
	viper.SetDefault("storage.upload_retries", 3)
	viper.SetDefault("storage.upload_base_delay", "250ms")

	setScalingDefaults()
	setBundlerDefaults()
	setObservabilityDefaults()

	// General defaults
	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("please set a secure JWT secret")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}

	if c.Database.Enabled && c.Database.MaxConnections < c.Database.MinConnections {
		return fmt.Errorf("max_connections must be greater than or equal to min_connections")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration error: %w", err)
	}

	if err := c.Scaling.Validate(); err != nil {
		return fmt.Errorf("scaling configuration error: %w", err)
	}

	if c.Scaling.Backend == "postgres" && !c.Database.Enabled {
		return fmt.Errorf("scaling backend 'postgres' requires database.enabled")
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("ratelimit configuration error: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration error: %w", err)
	}

	if c.Cache.Backend == "postgres" && !c.Database.Enabled {
		return fmt.Errorf("cache backend 'postgres' requires database.enabled")
	}

	if err := c.Bundler.Validate(); err != nil {
		return fmt.Errorf("bundler configuration error: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got: %v", sc.ReadTimeout)
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got: %v", sc.WriteTimeout)
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive, got: %d", sc.BodyLimit)
	}
	if sc.APIRateLimit <= 0 || sc.DownloadRateLimit <= 0 {
		return fmt.Errorf("api_rate_limit and download_rate_limit must be positive")
	}
	return nil
}

// Validate validates storage configuration
func (sc *StorageConfig) Validate() error {
	if sc.Provider != "local" && sc.Provider != "s3" {
		return fmt.Errorf("storage provider must be 'local' or 's3'")
	}

	if sc.Provider == "s3" {
		if sc.S3Endpoint == "" || sc.S3AccessKey == "" || sc.S3SecretKey == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	}

	if sc.UploadRetries < 0 {
		return fmt.Errorf("upload_retries cannot be negative, got: %d", sc.UploadRetries)
	}

	return nil
}

// ConnectionString returns the PostgreSQL URL, with credentials escaped
func (dc *DatabaseConfig) ConnectionString() string {
	return dc.URL("postgres").String()
}

// URL returns the connection URL under scheme. Migration drivers register
// their own schemes for the same server.
func (dc *DatabaseConfig) URL(scheme string) *url.URL {
	return &url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(dc.User, dc.Password),
		Host:     net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
		Path:     "/" + dc.Database,
		RawQuery: url.Values{"sslmode": {dc.SSLMode}}.Encode(),
	}
}
