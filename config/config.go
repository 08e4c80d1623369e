// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over values from the file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Backend   BackendConfig
	Session   SessionConfig
	Database  DatabaseConfig
	Shutdown  ShutdownConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

// BackendConfig points at the feed backend (HTTP API and event channel share a host).
type BackendConfig struct {
	BaseURL          string
	SocketPath       string
	RequestTimeout   string
	HandshakeTimeout string
}

// SessionConfig describes the locally held session. Token fields are optional;
// when set, the session is saved to the store on startup.
type SessionConfig struct {
	Username       string
	Token          string
	TokenExpiresAt string
	Store          string
	EncryptionKey  string
	ExpirySkew     string
}

type DatabaseConfig struct {
	URL string
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

// Load reads configuration from .env (if present) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "feed-sync"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_COLLECTOR_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 0.1),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_ENDPOINT", "http://localhost:4040"),
		},
		Backend: BackendConfig{
			BaseURL:          getEnv("FEED_BACKEND_URL", "http://localhost:3000"),
			SocketPath:       getEnv("FEED_SOCKET_PATH", "/socket.io/"),
			RequestTimeout:   getEnv("FEED_REQUEST_TIMEOUT", "10s"),
			HandshakeTimeout: getEnv("FEED_HANDSHAKE_TIMEOUT", "10s"),
		},
		Session: SessionConfig{
			Username:       getEnv("SESSION_USERNAME", ""),
			Token:          getEnv("SESSION_TOKEN", ""),
			TokenExpiresAt: getEnv("SESSION_TOKEN_EXPIRES_AT", ""),
			Store:          getEnv("SESSION_STORE", StoreMemory),
			EncryptionKey:  getEnv("SESSION_ENCRYPTION_KEY", ""),
			ExpirySkew:     getEnv("SESSION_EXPIRY_SKEW", "5s"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "0s"),
		},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Service.Port == "" {
		return errors.New("PORT is required")
	}
	if c.Session.Username == "" {
		return errors.New("SESSION_USERNAME is required")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("FEED_BACKEND_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("FEED_BACKEND_URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("FEED_BACKEND_URL: missing host")
	}

	for name, v := range map[string]string{
		"FEED_REQUEST_TIMEOUT":   c.Backend.RequestTimeout,
		"FEED_HANDSHAKE_TIMEOUT": c.Backend.HandshakeTimeout,
		"SESSION_EXPIRY_SKEW":    c.Session.ExpirySkew,
		"SHUTDOWN_TIMEOUT":       c.Shutdown.Timeout,
		"READINESS_DRAIN_DELAY":  c.Shutdown.ReadinessDrainDelay,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Session.TokenExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, c.Session.TokenExpiresAt); err != nil {
			return fmt.Errorf("SESSION_TOKEN_EXPIRES_AT: %w", err)
		}
	}

	switch c.Session.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres session store")
		}
		if _, err := c.GetEncryptionKey(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("SESSION_STORE: unknown store %q", c.Session.Store)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0, 1], got %v", c.Tracing.SampleRate)
	}

	return nil
}

// GetRequestTimeoutDuration returns the per-request timeout for feed API calls.
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return parseDuration(c.Backend.RequestTimeout, 10*time.Second)
}

// GetHandshakeTimeoutDuration returns the event channel handshake timeout.
func (c *Config) GetHandshakeTimeoutDuration() time.Duration {
	return parseDuration(c.Backend.HandshakeTimeout, 10*time.Second)
}

// GetExpirySkewDuration returns how early a credential is considered expired.
func (c *Config) GetExpirySkewDuration() time.Duration {
	return parseDuration(c.Session.ExpirySkew, 5*time.Second)
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.Shutdown.Timeout, 10*time.Second)
}

// GetReadinessDrainDelayDuration returns how long /ready reports 503 before the server stops.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDuration(c.Shutdown.ReadinessDrainDelay, 0)
}

// GetTokenExpiresAt returns the configured credential expiration, or the zero time.
func (c *Config) GetTokenExpiresAt() time.Time {
	t, err := time.Parse(time.RFC3339, c.Session.TokenExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetEncryptionKey decodes SESSION_ENCRYPTION_KEY (64 hex characters).
func (c *Config) GetEncryptionKey() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(c.Session.EncryptionKey))
	if err != nil {
		return key, fmt.Errorf("SESSION_ENCRYPTION_KEY: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("SESSION_ENCRYPTION_KEY: want %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
