// Package config loads the client's runtime settings from MARKETSYNC_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is the environment variable prefix, e.g. MARKETSYNC_BASE_URL.
const Prefix = "MARKETSYNC"

// Config holds the client configuration.
type Config struct {
	// Deployment
	BaseURL string `envconfig:"BASE_URL" validate:"omitempty,url"`
	Origin  string `envconfig:"ORIGIN" validate:"omitempty,url"`
	Preview bool   `envconfig:"PREVIEW" default:"false"`

	// Credentials
	Token        string `envconfig:"TOKEN"`
	TokenURL     string `envconfig:"OAUTH_TOKEN_URL" validate:"omitempty,url"`
	ClientID     string `envconfig:"OAUTH_CLIENT_ID" validate:"required_with=TokenURL"`
	ClientSecret string `envconfig:"OAUTH_CLIENT_SECRET" validate:"required_with=TokenURL"`

	// Local storage; in-memory when empty.
	StoreDir string `envconfig:"STORE_DIR"`

	// Transport
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"0" validate:"gte=0"`
	RateBurst int     `envconfig:"RATE_BURST" default:"5" validate:"gte=1"`

	// Live channel
	OpenTimeout           time.Duration `envconfig:"OPEN_TIMEOUT" default:"10s" validate:"gt=0"`
	ChatPollInterval      time.Duration `envconfig:"CHAT_POLL_INTERVAL" default:"4s" validate:"gt=0"`
	DashboardPollInterval time.Duration `envconfig:"DASHBOARD_POLL_INTERVAL" default:"30s" validate:"gt=0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

var validate = validator.New()

// Load parses MARKETSYNC_* variables and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Init installs the logger on w (stderr when nil) at the configured level and
// logs the settings that matter for support, secrets excluded.
func (c *Config) Init(w io.Writer) {
	InitLogger(w)
	SetLogLevel(ParseLevel(c.LogLevel))
	if c.Debug {
		SetLogLevel(ParseLevel("debug"))
	}

	log.Debug().
		Str("base_url", c.BaseURL).
		Str("origin", c.Origin).
		Bool("preview", c.Preview).
		Bool("token_present", c.Token != "").
		Bool("federated", c.TokenURL != "").
		Str("store_dir", c.StoreDir).
		Float64("rate_limit", c.RateLimit).
		Msg("configuration loaded")
}
