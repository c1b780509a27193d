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

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 64, cfg.Sessions.MaxNameLength)
	assert.False(t, cfg.Sessions.HostOnlyClose)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, ServiceType, cfg.Discovery.Service)
	assert.Equal(t, "local.", cfg.Discovery.Domain)
	assert.NotEmpty(t, cfg.Discovery.Instance)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lightshow.yaml")
	content := `
server:
  port: 4000
  shutdown_timeout: 3s
websocket:
  send_buffer: 8
sessions:
  host_only_close: true
discovery:
  enabled: false
  instance: "Main Hall"
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 8, cfg.WebSocket.SendBuffer)
	assert.True(t, cfg.Sessions.HostOnlyClose)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, "Main Hall", cfg.Discovery.Instance)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Sessions.MaxNameLength)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8081")
	t.Setenv("LIGHTSHOW_SESSIONS_MAX_NAME_LENGTH", "12")
	t.Setenv("LIGHTSHOW_WEBSOCKET_PONG_WAIT", "30s")
	t.Setenv("LIGHTSHOW_WEBSOCKET_PING_INTERVAL", "20s")
	t.Setenv("NGROK_AUTHTOKEN", "tok")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Sessions.MaxNameLength)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, "tok", cfg.Ngrok.AuthToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"ping not below pong", func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.PongWait }},
		{"no write wait", func(c *Config) { c.WebSocket.WriteWait = 0 }},
		{"no send buffer", func(c *Config) { c.WebSocket.SendBuffer = 0 }},
		{"no name length", func(c *Config) { c.Sessions.MaxNameLength = 0 }},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"ngrok without token", func(c *Config) { c.Ngrok.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
