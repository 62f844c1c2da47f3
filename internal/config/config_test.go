package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blacktop/unipost/internal/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, publish.DefaultRetryConfig(), cfg.PublishRetry())
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout())
	assert.Equal(t, publish.DefaultLimits(), cfg.Limits())
	assert.Equal(t, "https://mastodon.social", cfg.Platforms.Mastodon.Endpoint)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, []string{"openai", "gemini", "anthropic"}, cfg.Assist.Providers)
}

func TestLoadFileAndEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retry:
  max_retries: 5
  initial_delay: 250ms
platforms:
  bluesky:
    media_required: true
database:
  driver: postgres
  dsn: host=localhost user=postgres password=secret dbname=unipost
`), 0o600))

	t.Setenv("UNIPOST_RETRY_BACKOFF_MULTIPLIER", "3")
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	retry := cfg.PublishRetry()
	assert.Equal(t, 5, retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, retry.InitialDelay)
	assert.Equal(t, 3.0, retry.BackoffMultiplier)
	assert.True(t, cfg.Limits()[publish.Bluesky].MediaRequired)
	assert.Equal(t, 300, cfg.Limits()[publish.Bluesky].MaxChars)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "ant-key", cfg.Assist.Anthropic.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  initial_delay: soon\ndatabase:\n  driver: oracle\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InitialDelay")
	assert.Contains(t, err.Error(), "Driver")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestYAMLRedactsSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-live")
	t.Setenv("UNIPOST_SERVER_JWT_SECRET", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-live")
	assert.NotContains(t, string(out), "hunter2")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "********", decoded.Assist.OpenAI.APIKey)
	assert.Equal(t, "1s", decoded.Retry.InitialDelay)
	assert.Equal(t, "sk-live", cfg.Assist.OpenAI.APIKey)
}

func TestMissingEnvError(t *testing.T) {
	err := MissingEnvError{Provider: "openai", Variables: []string{"OPENAI_API_KEY"}}
	assert.Equal(t, "openai credentials not configured (missing OPENAI_API_KEY)", err.Error())
	assert.Equal(t, "gemini credentials not configured", MissingEnvError{Provider: "gemini"}.Error())
}
