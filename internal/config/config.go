// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	// APIBase is the scheme and host API paths are resolved against.
	APIBase string `env:"STOREFRONT_API_BASE" envDefault:"https://marketplace.firefox.com"`
	// Headless skips the online check before navigating.
	Headless bool `env:"STOREFRONT_HEADLESS" envDefault:"true"`
	// Offline marks the window as offline at start.
	Offline bool `env:"STOREFRONT_OFFLINE"`

	LogLevel  string `env:"STOREFRONT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"STOREFRONT_LOG_FORMAT" envDefault:"json"`

	HTTPTimeout time.Duration `env:"STOREFRONT_HTTP_TIMEOUT" envDefault:"15s"`
	// HTTPCache enables conditional (ETag) caching in the HTTP transport.
	HTTPCache bool   `env:"STOREFRONT_HTTP_CACHE" envDefault:"true"`
	APIToken  string `env:"STOREFRONT_API_TOKEN"`
	// Lang and Region are added to every API URL when set.
	Lang   string `env:"STOREFRONT_LANG"`
	Region string `env:"STOREFRONT_REGION"`

	// CanonicalParams are the query parameters kept in navigation paths.
	CanonicalParams []string `env:"STOREFRONT_CANONICAL_PARAMS" envSeparator:"," envDefault:"q,sort,cat,page"`

	PersistCache bool          `env:"STOREFRONT_PERSIST_CACHE"`
	CacheDir     string        `env:"STOREFRONT_CACHE_DIR"`
	CacheMaxAge  time.Duration `env:"STOREFRONT_CACHE_MAX_AGE" envDefault:"1h"`

	// TemplatesDir overrides the embedded templates when set.
	TemplatesDir   string `env:"STOREFRONT_TEMPLATES_DIR"`
	WatchTemplates bool   `env:"STOREFRONT_WATCH_TEMPLATES"`

	// PageTimeout bounds how long browse waits for a page to become ready.
	PageTimeout time.Duration `env:"STOREFRONT_PAGE_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil {
		return fmt.Errorf("invalid STOREFRONT_API_BASE: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("STOREFRONT_API_BASE must be an http(s) URL, got %q", c.APIBase)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid STOREFRONT_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("STOREFRONT_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.HTTPTimeout <= 0 || c.PageTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.WatchTemplates && c.TemplatesDir == "" {
		return errors.New("STOREFRONT_WATCH_TEMPLATES requires STOREFRONT_TEMPLATES_DIR")
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// APIDefaults returns the query parameters added to every API URL.
func (c *Config) APIDefaults() map[string]string {
	d := make(map[string]string, 2)
	if c.Lang != "" {
		d["lang"] = c.Lang
	}
	if c.Region != "" {
		d["region"] = c.Region
	}
	return d
}
