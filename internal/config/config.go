package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSigningKeyBytes is the minimum accepted HMAC signing key length.
// HS256 keys below 256 bits are rejected at startup.
const MinSigningKeyBytes = 32

// DefaultClockSkew is the leeway applied to token time claims during
// validation. Zero by default; operators widen it for skewed clients.
const DefaultClockSkew = 0 * time.Second

// Config holds all runtime configuration for the service.
type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	PGDSN    string `mapstructure:"PG_DSN"`

	SigningKey string        `mapstructure:"SIGNING_KEY"`
	Issuer     string        `mapstructure:"ISSUER"`
	Audience   string        `mapstructure:"AUDIENCE"`
	AccessTTL  time.Duration `mapstructure:"ACCESS_TTL"`
	RefreshTTL time.Duration `mapstructure:"REFRESH_TTL"`
	ClockSkew  time.Duration `mapstructure:"CLOCK_SKEW"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads configuration from config.yaml (if present) and KEYGATE_*
// environment variables, then validates it. A missing or short signing key
// is a startup error, never a per-request one.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/keygate/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KEYGATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PG_DSN", "")
	v.SetDefault("SIGNING_KEY", "")
	v.SetDefault("ISSUER", "keygate")
	v.SetDefault("AUDIENCE", "keygate-clients")
	v.SetDefault("ACCESS_TTL", time.Hour)
	v.SetDefault("REFRESH_TTL", 720*time.Hour)
	v.SetDefault("CLOCK_SKEW", DefaultClockSkew)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that must hold before the service starts.
func (c *Config) Validate() error {
	if len(c.SigningKey) < MinSigningKeyBytes {
		return fmt.Errorf("signing key must be at least %d bytes, got %d", MinSigningKeyBytes, len(c.SigningKey))
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("issuer is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return errors.New("audience is required")
	}
	if c.AccessTTL <= 0 {
		return errors.New("access token TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("refresh token TTL must exceed access token TTL")
	}
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	return nil
}
