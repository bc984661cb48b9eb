package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

// New builds the provider named by cfg.Provider. baseURL and signingSecret
// are used by the local provider to mint download links.
func New(cfg *config.StorageConfig, baseURL, signingSecret string) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		ls, err := NewLocalStorage(cfg.LocalPath, baseURL, signingSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return ls, nil

	case "s3":
		opts, err := s3OptionsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		s3, err := NewS3Storage(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return s3, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// s3OptionsFromConfig accepts endpoints as host[:port] or as a URL whose
// scheme overrides s3_use_ssl
func s3OptionsFromConfig(cfg *config.StorageConfig) (S3Options, error) {
	opts := S3Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		PathStyle: cfg.S3PathStyle,
	}

	if opts.Endpoint == "" {
		opts.Endpoint = "s3.amazonaws.com"
		opts.UseSSL = true
		return opts, nil
	}

	if strings.Contains(opts.Endpoint, "://") {
		u, err := url.Parse(opts.Endpoint)
		if err != nil {
			return S3Options{}, fmt.Errorf("invalid S3 endpoint %q: %w", cfg.S3Endpoint, err)
		}
		switch u.Scheme {
		case "http":
			opts.UseSSL = false
		case "https":
			opts.UseSSL = true
		default:
			return S3Options{}, fmt.Errorf("invalid S3 endpoint %q: unsupported scheme %q", cfg.S3Endpoint, u.Scheme)
		}
		if u.Path != "" && u.Path != "/" {
			return S3Options{}, fmt.Errorf("invalid S3 endpoint %q: paths are not supported", cfg.S3Endpoint)
		}
		opts.Endpoint = u.Host
	}
	return opts, nil
}
