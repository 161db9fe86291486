// Package config provides centralized configuration management for the portal.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Firebase FirebaseConfig
	OAuth    OAuthConfig
	Session  SessionConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// BaseURL is the externally visible origin, used for OAuth redirect URLs
	BaseURL string `env:"APP_BASE_URL" default:"http://localhost:8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// FirebaseConfig holds the hosted identity and document store settings.
type FirebaseConfig struct {
	// ProjectID is the Firebase/GCP project (required)
	ProjectID string `env:"FIREBASE_PROJECT_ID" envAlt:"GOOGLE_CLOUD_PROJECT" required:"true"`

	// APIKey is the web API key used for password and IdP sign-in (required)
	APIKey string `env:"FIREBASE_API_KEY" required:"true"`

	// CredentialsFile is a service account JSON file; empty means ADC
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// CredentialsJSONBase64 is a base64 service account JSON, for container deployments
	CredentialsJSONBase64 string `env:"FIREBASE_CREDENTIALS_BASE64"`

	// ProfileCollection is the Firestore collection holding profiles (default: user)
	ProfileCollection string `env:"FIREBASE_PROFILE_COLLECTION" default:"user"`
}

// OAuthConfig holds the federated sign-in client registrations.
// A provider is offered only when its client id is set.
type OAuthConfig struct {
	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"FACEBOOK_APP_ID"`
	FacebookClientSecret string `env:"FACEBOOK_APP_SECRET"`
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *OAuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// FacebookEnabled reports whether Facebook sign-in is configured.
func (c *OAuthConfig) FacebookEnabled() bool {
	return c.FacebookClientID != ""
}

// SessionConfig holds browser session settings.
type SessionConfig struct {
	// Store selects the backend: memory or redis (default: memory)
	Store string `env:"SESSION_STORE" default:"memory"`

	// CookieName is the session cookie name (default: mp3portal_session)
	CookieName string `env:"SESSION_COOKIE_NAME" default:"mp3portal_session"`

	// TTL is how long an idle session lives (default: 24h)
	TTL time.Duration `env:"SESSION_TTL" default:"24h"`

	// Secure sets the Secure flag on the cookie (default: false)
	Secure bool `env:"SESSION_COOKIE_SECURE" default:"false"`

	// SweepInterval is how often expired sessions release their previews (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// RedisConfig holds the Redis connection used by the redis session store.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" default:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" default:"mp3portal:session:"`
}

// AuthConfig holds auth operation settings.
type AuthConfig struct {
	// OperationTimeout bounds one auth operation (default: 15s)
	OperationTimeout time.Duration `env:"AUTH_OPERATION_TIMEOUT" default:"15s"`

	// MaxConcurrent is the maximum number of backend calls in flight (default: 16)
	MaxConcurrent int `env:"AUTH_MAX_CONCURRENT" default:"16"`

	// MaxWaitTime is how long an operation waits for a backend slot (default: 10s)
	MaxWaitTime time.Duration `env:"AUTH_MAX_WAIT_TIME" default:"10s"`
}

// UploadConfig holds CSV import and audio preview limits.
type UploadConfig struct {
	// CSVSoftLimit is the size above which an import gets a warning (default: 200000)
	CSVSoftLimit int64 `env:"CSV_SOFT_LIMIT" default:"200000"`

	// CSVMaxRequestSize is the hard cap on an import request body (default: 10MB)
	CSVMaxRequestSize int64 `env:"CSV_MAX_REQUEST_SIZE" default:"10485760"`

	// AudioMaxFileSize is the per-file preview limit (default: 3000000)
	AudioMaxFileSize int64 `env:"AUDIO_MAX_FILE_SIZE" default:"3000000"`

	// AudioMaxRequestSize is the hard cap on an audio selection request (default: 100MB)
	AudioMaxRequestSize int64 `env:"AUDIO_MAX_REQUEST_SIZE" default:"104857600"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the token bucket size per IP (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`

	// AuthLimit is requests per minute for sign-in and register posts (default: 10)
	AuthLimit int `env:"RATE_LIMIT_AUTH" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// EnableCSRF protects form posts with gorilla/csrf (default: true)
	EnableCSRF bool `env:"SECURITY_ENABLE_CSRF" default:"true"`

	// CSRFKey is the 32-byte authentication key; empty generates one per process
	CSRFKey string `env:"CSRF_KEY"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// URL joins path onto BaseURL.
func (c *ServerConfig) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
