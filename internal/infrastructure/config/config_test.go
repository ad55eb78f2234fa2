package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, []string{"firefox", "code", "cursor", "gedit", "libreoffice"}, cfg.Apps.Allowed)
	assert.Equal(t, 10, cfg.Apps.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Apps.StopGrace)

	assert.Equal(t, time.Hour, cfg.Sessions.Timeout)
	assert.Equal(t, 30, cfg.Stream.FrameRate)
	assert.Equal(t, 80, cfg.Stream.Quality)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"JWT_SECRET":           "s3cret",
		"ALLOWED_APPLICATIONS": "gedit,xterm",
		"MAX_CONCURRENT_APPS":  "2",
		"APP_STOP_GRACE":       "250ms",
		"SESSION_TIMEOUT":      "30m",
		"FRAME_RATE":           "15",
		"LOG_LEVEL":            "debug",
		"RATE_LIMIT_ENABLED":   "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"gedit", "xterm"}, cfg.Apps.Allowed)
	assert.Equal(t, 2, cfg.Apps.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.Apps.StopGrace)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.Timeout)
	assert.Equal(t, 15, cfg.Stream.FrameRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRequiresSecretUnlessAuthDisabled(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_DISABLED", "false")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AUTH_DISABLED", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Disabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Apps.MaxConcurrent = 0 }},
		{"frame rate", func(c *Config) { c.Stream.FrameRate = 0 }},
		{"quality", func(c *Config) { c.Stream.Quality = 101 }},
		{"queue", func(c *Config) { c.Stream.QueueSize = 0 }},
		{"timeout", func(c *Config) { c.Sessions.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("APPSHARE_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APPSHARE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("APPSHARE_TEST_DOTENV"))

	// Missing files are ignored
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
