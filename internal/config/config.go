package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/unipost/internal/publish"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "UNIPOST"

// Config is the merged file + environment configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Platforms PlatformsConfig `mapstructure:"platforms" yaml:"platforms"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Assist    AssistConfig    `mapstructure:"assist" yaml:"assist"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// RetryConfig mirrors publish.RetryConfig with durations kept as strings.
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=1,lte=10"`
	InitialDelay      string  `mapstructure:"initial_delay" yaml:"initial_delay" validate:"duration"`
	MaxDelay          string  `mapstructure:"max_delay" yaml:"max_delay" validate:"duration"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gte=1"`
	AttemptTimeout    string  `mapstructure:"attempt_timeout" yaml:"attempt_timeout" validate:"omitempty,duration"`
}

type PlatformConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	MaxChars      int    `mapstructure:"max_chars" yaml:"max_chars" validate:"gte=0"`
	MaxMedia      int    `mapstructure:"max_media" yaml:"max_media" validate:"gte=0"`
	MediaRequired bool   `mapstructure:"media_required" yaml:"media_required"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	Username      string `mapstructure:"username" yaml:"username,omitempty"`
	Timeout       string `mapstructure:"timeout" yaml:"timeout" validate:"duration"`
}

type PlatformsConfig struct {
	Twitter  PlatformConfig `mapstructure:"twitter" yaml:"twitter"`
	Mastodon PlatformConfig `mapstructure:"mastodon" yaml:"mastodon"`
	Bluesky  PlatformConfig `mapstructure:"bluesky" yaml:"bluesky"`
	Discord  PlatformConfig `mapstructure:"discord" yaml:"discord"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	TTL      string `mapstructure:"ttl" yaml:"ttl" validate:"duration"`
}

type ServerConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr" validate:"required"`
	JWTSecret string  `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	// MediaDir is the only directory API callers may attach media from.
	// Empty disables media on the API.
	MediaDir  string  `mapstructure:"media_dir" yaml:"media_dir"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
}

type AssistConfig struct {
	Providers []string       `mapstructure:"providers" yaml:"providers" validate:"dive,oneof=openai gemini anthropic"`
	Timeout   string         `mapstructure:"timeout" yaml:"timeout" validate:"duration"`
	OpenAI    ProviderConfig `mapstructure:"openai" yaml:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini" yaml:"gemini"`
	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
}

// MissingEnvError is returned when credentials a command needs are not configured.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "unipost", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	def := publish.DefaultRetryConfig()
	v.SetDefault("retry.max_retries", def.MaxRetries)
	v.SetDefault("retry.initial_delay", def.InitialDelay.String())
	v.SetDefault("retry.max_delay", def.MaxDelay.String())
	v.SetDefault("retry.backoff_multiplier", def.BackoffMultiplier)
	v.SetDefault("retry.attempt_timeout", "30s")

	limits := publish.DefaultLimits()
	endpoints := map[publish.Platform]string{
		publish.Mastodon: "https://mastodon.social",
		publish.Bluesky:  "https://bsky.social",
	}
	for _, p := range publish.Platforms() {
		key := "platforms." + string(p)
		v.SetDefault(key+".enabled", true)
		v.SetDefault(key+".max_chars", limits[p].MaxChars)
		v.SetDefault(key+".max_media", limits[p].MaxMedia)
		v.SetDefault(key+".media_required", limits[p].MediaRequired)
		v.SetDefault(key+".endpoint", endpoints[p])
		v.SetDefault(key+".username", "")
		v.SetDefault(key+".timeout", "30s")
	}

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "unipost.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.media_dir", "")

	v.SetDefault("assist.providers", []string{"openai", "gemini", "anthropic"})
	v.SetDefault("assist.timeout", "60s")
	v.SetDefault("assist.openai.api_key", "")
	v.SetDefault("assist.openai.model", "gpt-4o-mini")
	v.SetDefault("assist.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("assist.gemini.api_key", "")
	v.SetDefault("assist.gemini.model", "gemini-2.5-flash")
	v.SetDefault("assist.gemini.base_url", "")
	v.SetDefault("assist.anthropic.api_key", "")
	v.SetDefault("assist.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("assist.anthropic.base_url", "https://api.anthropic.com/v1")
}

// Load reads the YAML file at path (or DefaultPath when empty, where a missing
// file is not an error), applies UNIPOST_* environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"assist.openai.api_key":    "OPENAI_API_KEY",
		"assist.gemini.api_key":    "GEMINI_API_KEY",
		"assist.anthropic.api_key": "ANTHROPIC_API_KEY",
	} {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(DefaultPath())
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("read config: %w", err)
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

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return validate
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// PublishRetry converts the retry section into the publish policy.
func (c *Config) PublishRetry() publish.RetryConfig {
	return publish.RetryConfig{
		MaxRetries:        c.Retry.MaxRetries,
		InitialDelay:      duration(c.Retry.InitialDelay),
		MaxDelay:          duration(c.Retry.MaxDelay),
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// AttemptTimeout bounds a single send.
func (c *Config) AttemptTimeout() time.Duration { return duration(c.Retry.AttemptTimeout) }

// CacheTTL is how long resolved credentials stay in redis.
func (c *Config) CacheTTL() time.Duration { return duration(c.Redis.TTL) }

// AssistTimeout bounds one provider call.
func (c *Config) AssistTimeout() time.Duration { return duration(c.Assist.Timeout) }

// Platform returns the section for p.
func (c *Config) Platform(p publish.Platform) PlatformConfig {
	switch p {
	case publish.Twitter:
		return c.Platforms.Twitter
	case publish.Mastodon:
		return c.Platforms.Mastodon
	case publish.Bluesky:
		return c.Platforms.Bluesky
	case publish.Discord:
		return c.Platforms.Discord
	}
	return PlatformConfig{}
}

// TimeoutDuration returns the HTTP timeout configured for the platform.
func (p PlatformConfig) TimeoutDuration() time.Duration { return duration(p.Timeout) }

// Limits builds the validator table from the platform sections.
func (c *Config) Limits() publish.Limits {
	limits := publish.Limits{}
	for _, p := range publish.Platforms() {
		pc := c.Platform(p)
		limits[p] = publish.Limit{MaxChars: pc.MaxChars, MaxMedia: pc.MaxMedia, MediaRequired: pc.MediaRequired}
	}
	return limits
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Redis.Password = mask(c.Redis.Password)
	c.Server.JWTSecret = mask(c.Server.JWTSecret)
	c.Assist.OpenAI.APIKey = mask(c.Assist.OpenAI.APIKey)
	c.Assist.Gemini.APIKey = mask(c.Assist.Gemini.APIKey)
	c.Assist.Anthropic.APIKey = mask(c.Assist.Anthropic.APIKey)
	c.Assist.Providers = append([]string(nil), c.Assist.Providers...)
	if strings.Contains(c.Database.DSN, "password=") {
		c.Database.DSN = mask(c.Database.DSN)
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
