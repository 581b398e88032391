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
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())

	assert.Equal(t, "http://localhost:8000", cfg.Bridge.HostOrigin)
	assert.Equal(t, "http://sandbox.localhost:8000", cfg.Bridge.GuestOrigin)
	assert.False(t, cfg.Bridge.AllowWildcard)
	assert.Zero(t, cfg.Bridge.SessionTimeout.Std())
	assert.Equal(t, GuestInProc, cfg.Bridge.GuestMode)

	assert.Equal(t, 5*time.Second, cfg.Guest.EvalTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout.Std())
	assert.Equal(t, int64(10<<20), cfg.Fetch.MaxBodyBytes)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"BRIDGE_HOST_ORIGIN":     "https://app.example.com",
		"BRIDGE_ALLOW_WILDCARD":  "true",
		"BRIDGE_SESSION_TIMEOUT": "45s",
		"BRIDGE_GUEST_MODE":      "remote",
		"GUEST_EVAL_TIMEOUT":     "250ms",
		"FETCH_ALLOWED_HOSTS":    "example.com,api.example.org",
		"LOG_LEVEL":              "debug",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "https://app.example.com", cfg.Bridge.HostOrigin)
	assert.True(t, cfg.Bridge.AllowWildcard)
	assert.Equal(t, 45*time.Second, cfg.Bridge.SessionTimeout.Std())
	assert.Equal(t, GuestRemote, cfg.Bridge.GuestMode)
	assert.Equal(t, 250*time.Millisecond, cfg.Guest.EvalTimeout.Std())
	assert.Equal(t, []string{"example.com", "api.example.org"}, cfg.Fetch.AllowedHosts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)

	// Defaults still apply to unset fields
	assert.Equal(t, int64(1<<20), cfg.Socket.MaxMessageBytes)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
	assert.NotNil(t, LoadOrDefault())
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
server:
  port: "7000"
bridge:
  host_origin: https://editor.example.com
  allow_wildcard: true
fetch:
  allowed_hosts:
    - example.com
  max_body_bytes: 2048
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "https://editor.example.com", cfg.Bridge.HostOrigin)
	assert.True(t, cfg.Bridge.AllowWildcard)
	assert.Equal(t, []string{"example.com"}, cfg.Fetch.AllowedHosts)
	assert.Equal(t, int64(2048), cfg.Fetch.MaxBodyBytes)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	content := `
[bridge]
guest_mode = "remote"
session_timeout = "2m"

[guest]
eval_timeout = "1s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, GuestRemote, cfg.Bridge.GuestMode)
	assert.Equal(t, 2*time.Minute, cfg.Bridge.SessionTimeout.Std())
	assert.Equal(t, time.Second, cfg.Guest.EvalTimeout.Std())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "bridge.ini")
	require.NoError(t, os.WriteFile(ini, []byte("port=1"), 0o600))
	_, err = LoadFile(ini)
	assert.Error(t, err)

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Guest.MaxCallStack)
}
