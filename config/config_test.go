package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{Name: "feed-sync", Port: "8080"},
		Backend: BackendConfig{
			BaseURL:          "http://localhost:3000",
			SocketPath:       "/socket.io/",
			RequestTimeout:   "10s",
			HandshakeTimeout: "10s",
		},
		Session: SessionConfig{
			Username:   "alice",
			Store:      StoreMemory,
			ExpirySkew: "5s",
		},
		Shutdown: ShutdownConfig{Timeout: "10s", ReadinessDrainDelay: "0s"},
		Tracing:  TracingConfig{SampleRate: 0.1},
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_USERNAME", "alice")
	t.Setenv("FEED_BACKEND_URL", "")

	cfg := Load()
	assert.Equal(t, "alice", cfg.Session.Username)
	assert.Equal(t, "http://localhost:3000", cfg.Backend.BaseURL)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	assert.Equal(t, 5*time.Second, cfg.GetExpirySkewDuration())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing username", func(c *Config) { c.Session.Username = "" }, "SESSION_USERNAME"},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "unsupported scheme"},
		{"missing host", func(c *Config) { c.Backend.BaseURL = "http://" }, "missing host"},
		{"bad timeout", func(c *Config) { c.Backend.RequestTimeout = "soon" }, "FEED_REQUEST_TIMEOUT"},
		{"bad expiry", func(c *Config) { c.Session.TokenExpiresAt = "tomorrow" }, "SESSION_TOKEN_EXPIRES_AT"},
		{"unknown store", func(c *Config) { c.Session.Store = "redis" }, "unknown store"},
		{"postgres without url", func(c *Config) { c.Session.Store = StorePostgres }, "DATABASE_URL"},
		{"postgres with short key", func(c *Config) {
			c.Session.Store = StorePostgres
			c.Database.URL = "postgres://localhost/feed"
			c.Session.EncryptionKey = "abcd"
		}, "want 32 bytes"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "OTEL_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEncryptionKey(t *testing.T) {
	cfg := validConfig()
	cfg.Session.EncryptionKey = strings.Repeat("ab", 32)

	key, err := cfg.GetEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), key[0])
	assert.Equal(t, byte(0xab), key[31])
}

func TestGetTokenExpiresAt(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.GetTokenExpiresAt().IsZero())

	cfg.Session.TokenExpiresAt = "2030-01-02T03:04:05Z"
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), cfg.GetTokenExpiresAt().UTC())
}
