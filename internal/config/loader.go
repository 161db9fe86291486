package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("APP_BASE_URL (%q) must be an absolute URL", c.Server.BaseURL))
	}

	// Firebase validation
	if c.Firebase.ProjectID == "" {
		errs = append(errs, "FIREBASE_PROJECT_ID is required")
	}
	if c.Firebase.APIKey == "" {
		errs = append(errs, "FIREBASE_API_KEY is required")
	}
	if c.Firebase.CredentialsFile != "" && c.Firebase.CredentialsJSONBase64 != "" {
		errs = append(errs, "set only one of GOOGLE_APPLICATION_CREDENTIALS and FIREBASE_CREDENTIALS_BASE64")
	}
	if c.Firebase.ProfileCollection == "" {
		errs = append(errs, "FIREBASE_PROFILE_COLLECTION must not be empty")
	}

	// OAuth validation
	if (c.OAuth.GoogleClientID == "") != (c.OAuth.GoogleClientSecret == "") {
		errs = append(errs, "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if (c.OAuth.FacebookClientID == "") != (c.OAuth.FacebookClientSecret == "") {
		errs = append(errs, "FACEBOOK_APP_ID and FACEBOOK_APP_SECRET must be set together")
	}

	// Session validation
	switch strings.ToLower(c.Session.Store) {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "REDIS_ADDR is required when SESSION_STORE is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("SESSION_STORE (%q) must be one of: memory, redis", c.Session.Store))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, "SESSION_COOKIE_NAME must not be empty")
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "SESSION_TTL must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "REDIS_DB must be non-negative")
	}

	// Auth validation
	if c.Auth.OperationTimeout <= 0 {
		errs = append(errs, "AUTH_OPERATION_TIMEOUT must be positive")
	}
	if c.Auth.MaxConcurrent <= 0 {
		errs = append(errs, "AUTH_MAX_CONCURRENT must be positive")
	}
	if c.Auth.MaxWaitTime <= 0 {
		errs = append(errs, "AUTH_MAX_WAIT_TIME must be positive")
	}

	// Upload validation
	if c.Upload.CSVSoftLimit <= 0 {
		errs = append(errs, "CSV_SOFT_LIMIT must be positive")
	}
	if c.Upload.CSVMaxRequestSize < c.Upload.CSVSoftLimit {
		errs = append(errs, fmt.Sprintf("CSV_MAX_REQUEST_SIZE (%d) must be >= CSV_SOFT_LIMIT (%d)",
			c.Upload.CSVMaxRequestSize, c.Upload.CSVSoftLimit))
	}
	if c.Upload.AudioMaxFileSize <= 0 {
		errs = append(errs, "AUDIO_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.AudioMaxRequestSize < c.Upload.AudioMaxFileSize {
		errs = append(errs, fmt.Sprintf("AUDIO_MAX_REQUEST_SIZE (%d) must be >= AUDIO_MAX_FILE_SIZE (%d)",
			c.Upload.AudioMaxRequestSize, c.Upload.AudioMaxFileSize))
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.AuthLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_AUTH must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.CSRFKey != "" && len(c.Security.CSRFKey) != 32 {
		errs = append(errs, fmt.Sprintf("CSRF_KEY must be exactly 32 bytes, got %d", len(c.Security.CSRFKey)))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// API keys, client secrets and passwords are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d, BaseURL: %q}, ", c.Server.Host, c.Server.Port, c.Server.BaseURL))
	b.WriteString(fmt.Sprintf("Firebase: {ProjectID: %q, APIKey: %s, Credentials: %s}, ",
		c.Firebase.ProjectID, mask(c.Firebase.APIKey), credentialSource(c.Firebase)))
	b.WriteString(fmt.Sprintf("OAuth: {Google: %v, Facebook: %v, Secrets: [MASKED]}, ",
		c.OAuth.GoogleEnabled(), c.OAuth.FacebookEnabled()))
	b.WriteString(fmt.Sprintf("Session: {Store: %q, TTL: %s}, ", c.Session.Store, c.Session.TTL))
	b.WriteString(fmt.Sprintf("Redis: {Addr: %q, Password: %s, DB: %d}, ", c.Redis.Addr, mask(c.Redis.Password), c.Redis.DB))
	b.WriteString(fmt.Sprintf("Auth: {OperationTimeout: %s, MaxConcurrent: %d}, ", c.Auth.OperationTimeout, c.Auth.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Upload: {CSVSoftLimit: %d, AudioMaxFileSize: %d}, ",
		c.Upload.CSVSoftLimit, c.Upload.AudioMaxFileSize))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {CSP: %v, CSRF: %v, CSRFKey: %s}, ",
		c.Security.EnableCSP, c.Security.EnableCSRF, mask(c.Security.CSRFKey)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[EMPTY]"
	}
	return "[MASKED]"
}

func credentialSource(c FirebaseConfig) string {
	switch {
	case c.CredentialsJSONBase64 != "":
		return "base64"
	case c.CredentialsFile != "":
		return "file"
	default:
		return "default"
	}
}
