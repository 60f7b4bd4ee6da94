// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package config loads service settings from a YAML file, PROFILESPACES_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/logging"
	"github.com/profilespaces/profilespaces/internal/profile"
)

// EnvPrefix prefixes environment variables read by Load.
const EnvPrefix = "PROFILESPACES_"

// Config is the full service configuration.
type Config struct {
	HTTPAddr     string `koanf:"http_addr"`
	MetricsAddr  string `koanf:"metrics_addr"`
	DatabaseURL  string `koanf:"database_url"`
	APIAuthToken string `koanf:"api_auth_token"`
	LogFormat    string `koanf:"log_format"`
	LogLevel     string `koanf:"log_level"`
	CookieSecure bool   `koanf:"cookie_secure"`
	CORSOrigins  string `koanf:"cors_allowed_origins"`
	RateLimit    int    `koanf:"auth_rate_limit"`

	SessionRememberTTL       time.Duration `koanf:"session_remember_ttl"`
	SessionShortTTL          time.Duration `koanf:"session_short_ttl"`
	SessionRememberThreshold time.Duration `koanf:"session_remember_threshold"`
	SessionDisableExpiry     bool          `koanf:"session_disable_expiry"`
	ResetTTL                 time.Duration `koanf:"reset_ttl"`
	ResetEchoKey             bool          `koanf:"reset_echo_key"`
	ReapInterval             time.Duration `koanf:"reap_interval"`
	MinPasswordLength        int           `koanf:"min_password_length"`

	PhotoBucket        string `koanf:"photo_bucket"`
	PhotoEndpoint      string `koanf:"photo_endpoint"`
	PhotoRegion        string `koanf:"photo_region"`
	PhotoAccessKey     string `koanf:"photo_access_key"`
	PhotoSecretKey     string `koanf:"photo_secret_key"`
	PhotoPathStyle     bool   `koanf:"photo_path_style"`
	PhotoPublicBaseURL string `koanf:"photo_public_base_url"`
	PhotoMaxBytes      int64  `koanf:"photo_max_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:                 ":8000",
		MetricsAddr:              "127.0.0.1:9100",
		LogFormat:                "json",
		LogLevel:                 "info",
		RateLimit:                30,
		SessionRememberTTL:       auth.DefaultRememberTTL,
		SessionShortTTL:          auth.DefaultShortTTL,
		SessionRememberThreshold: auth.DefaultRememberThreshold,
		ResetTTL:                 auth.DefaultResetTTL,
		ReapInterval:             time.Hour,
		MinPasswordLength:        auth.DefaultMinPasswordLength,
		PhotoRegion:              "us-east-1",
		PhotoMaxBytes:            profile.MaxPhotoBytes,
	}
}

// RegisterFlags defines one flag per setting on fs, named like the key with
// dashes, defaulting to Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTPAddr, "HTTP listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	fs.String("api-auth-token", d.APIAuthToken, "shared secret required in X-API-Key (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Bool("cookie-secure", d.CookieSecure, "mark cleared session cookies Secure")
	fs.Int("auth-rate-limit", d.RateLimit, "signup/login/reset requests per IP per minute (0 = unlimited)")
	fs.String("cors-allowed-origins", d.CORSOrigins, "comma-separated browser origins allowed to call the API (empty = none)")
	fs.Duration("session-remember-ttl", d.SessionRememberTTL, "lifetime of remembered sessions")
	fs.Duration("session-short-ttl", d.SessionShortTTL, "lifetime of short sessions")
	fs.Duration("session-remember-threshold", d.SessionRememberThreshold, "remaining lifetime above which a session counts as remembered")
	fs.Bool("session-disable-expiry", d.SessionDisableExpiry, "issue sessions that never expire")
	fs.Duration("reset-ttl", d.ResetTTL, "lifetime of password reset tokens")
	fs.Bool("reset-echo-key", d.ResetEchoKey, "return issued reset keys in the API response (development only)")
	fs.Duration("reap-interval", d.ReapInterval, "expired token sweep interval (0 = disabled)")
	fs.Int("min-password-length", d.MinPasswordLength, "minimum password length")
	fs.String("photo-bucket", d.PhotoBucket, "S3 bucket for profile photos (empty = uploads disabled)")
	fs.String("photo-endpoint", d.PhotoEndpoint, "S3 endpoint for non-AWS storage")
	fs.String("photo-region", d.PhotoRegion, "S3 region")
	fs.String("photo-access-key", d.PhotoAccessKey, "S3 access key (empty = default credential chain)")
	fs.String("photo-secret-key", d.PhotoSecretKey, "S3 secret key")
	fs.Bool("photo-path-style", d.PhotoPathStyle, "use path-style S3 addressing")
	fs.String("photo-public-base-url", d.PhotoPublicBaseURL, "public URL prefix for photo objects")
	fs.Int64("photo-max-bytes", d.PhotoMaxBytes, "largest accepted photo upload")
}

// Load reads path (if non-empty), the environment and fs. Flags left at their
// defaults do not override values from the file or the environment.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, oops.Code("CONFIG_NOT_FOUND").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// SessionPolicy returns the session lifetimes as an auth.SessionPolicy.
func (c *Config) SessionPolicy() auth.SessionPolicy {
	return auth.SessionPolicy{
		RememberTTL:       c.SessionRememberTTL,
		ShortTTL:          c.SessionShortTTL,
		RememberThreshold: c.SessionRememberThreshold,
		DisableExpiry:     c.SessionDisableExpiry,
	}
}

// AllowedOrigins splits CORSOrigins into trimmed, non-empty origins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// PhotosEnabled reports whether a photo bucket is configured.
func (c *Config) PhotosEnabled() bool {
	return strings.TrimSpace(c.PhotoBucket) != ""
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	return c.validateCommon()
}

// ValidateOffline checks settings without requiring a database URL.
func (c *Config) ValidateOffline() error {
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return oops.Code("CONFIG_INVALID").Errorf("log_level: %v", err)
	}
	if err := c.SessionPolicy().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Errorf("session lifetimes: %v", err)
	}
	if c.ResetTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("reset_ttl must be positive")
	}
	if c.ReapInterval < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("reap_interval cannot be negative")
	}
	if c.RateLimit < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth_rate_limit cannot be negative")
	}
	if c.MinPasswordLength < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("min_password_length must be at least 1")
	}
	if c.PhotoMaxBytes <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("photo_max_bytes must be positive")
	}
	return nil
}
