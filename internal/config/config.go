// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// Grid-specific settings that are too structured for environment variables
// (rules, column mapping, selectors) live in a YAML profile; see profile.go.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Grid      GridConfig
	Browser   BrowserConfig
	Audit     AuditConfig
	Assistant AssistantConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 because batch runs can take minutes.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-batch requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DataConfig holds dataset persistence settings.
type DataConfig struct {
	// File is the JSON file the dataset is saved to and loaded from.
	File string `env:"DATA_FILE" default:"config/test_data.json"`

	// BackupDir receives a timestamped copy of File before each overwrite.
	BackupDir string `env:"DATA_BACKUP_DIR" default:"config/backup"`

	// BackupEnabled toggles the pre-save backup (default: true)
	BackupEnabled bool `env:"DATA_BACKUP_ENABLED" default:"true"`

	// ExportDir is where Export writes export_<timestamp>.json files.
	ExportDir string `env:"DATA_EXPORT_DIR" default:"exports"`

	// LoadOnStart loads File into the dataset at startup (default: true)
	LoadOnStart bool `env:"DATA_LOAD_ON_START" default:"true"`
}

// GridConfig holds grid automation settings.
type GridConfig struct {
	// Profile is the path to a YAML grid profile. Empty uses the embedded default.
	Profile string `env:"GRID_PROFILE"`

	// BaseURL overrides the profile's base_url when set.
	BaseURL string `env:"GRID_BASE_URL"`

	// MaxAttempts is the retry budget for transient UI failures (default: 3)
	MaxAttempts int `env:"GRID_MAX_ATTEMPTS" envAlt:"MAX_RETRY_ATTEMPTS" default:"3"`

	// RetryDelay is the pause between attempts (default: 2s)
	RetryDelay time.Duration `env:"GRID_RETRY_DELAY" default:"2s"`

	// BatchDelay is the pause between batch items (default: 1s)
	BatchDelay time.Duration `env:"GRID_BATCH_DELAY" default:"1s"`

	// BatchMax caps the number of records in one batch (default: 50)
	BatchMax int `env:"GRID_BATCH_MAX" default:"50"`

	// ConfirmDestructive requires an explicit confirmation before deletes (default: true)
	ConfirmDestructive bool `env:"GRID_CONFIRM_DESTRUCTIVE" default:"true"`

	// ElementTimeout bounds every element wait (default: 10s)
	ElementTimeout time.Duration `env:"GRID_ELEMENT_TIMEOUT" default:"10s"`

	// PageLoadTimeout bounds navigation (default: 60s)
	PageLoadTimeout time.Duration `env:"GRID_PAGE_LOAD_TIMEOUT" default:"60s"`

	// LoginTimeout bounds the wait for the grid after navigation, which
	// covers a manual login in a headed browser (default: 120s)
	LoginTimeout time.Duration `env:"GRID_LOGIN_TIMEOUT" default:"120s"`

	// CursorWait is how long a caller queues for the edit cursor (default: 5m)
	CursorWait time.Duration `env:"GRID_CURSOR_WAIT" default:"5m"`

	// WatchProfile reloads the profile when the file changes (default: true)
	WatchProfile bool `env:"GRID_WATCH_PROFILE" default:"true"`

	// DuplicateThreshold overrides the profile similarity threshold when > 0.
	DuplicateThreshold float64 `env:"GRID_DUPLICATE_THRESHOLD"`
}

// BrowserConfig holds settings for the Chrome DevTools page driver.
type BrowserConfig struct {
	// Enabled starts a browser at boot. When false the grid endpoints
	// report the session as disconnected.
	Enabled bool `env:"BROWSER_ENABLED" default:"false"`

	// Headless runs Chrome without a window (default: false, login is manual)
	Headless bool `env:"BROWSER_HEADLESS" default:"false"`

	// ExecPath points at a specific Chrome binary.
	ExecPath string `env:"BROWSER_EXEC_PATH"`

	// UserDataDir keeps cookies between runs so the SSO login sticks.
	UserDataDir string `env:"BROWSER_USER_DATA_DIR"`

	// ScreenshotDir receives failure screenshots.
	ScreenshotDir string `env:"BROWSER_SCREENSHOT_DIR" default:"screenshots"`
}

// AuditConfig holds audit trail storage settings.
type AuditConfig struct {
	// Driver selects the store: none, memory, sqlite or postgres (default: memory)
	Driver string `env:"AUDIT_DRIVER" default:"memory"`

	// DSN is the sqlite file path or PostgreSQL connection string.
	DSN string `env:"AUDIT_DSN" envAlt:"DATABASE_URL"`

	// MaxConns is the PostgreSQL pool size (default: 4)
	MaxConns int `env:"AUDIT_MAX_CONNS" default:"4"`
}

// AssistantConfig holds settings for the advisory LLM client.
type AssistantConfig struct {
	// Enabled toggles the assistant endpoints (default: false)
	Enabled bool `env:"ASSISTANT_ENABLED" default:"false"`

	// URL is the Ollama base URL (default: http://localhost:11434)
	URL string `env:"ASSISTANT_URL" default:"http://localhost:11434"`

	// Model is the model name passed to the generate endpoint.
	Model string `env:"ASSISTANT_MODEL" default:"llama3.1"`

	// Timeout bounds one generate call (default: 60s)
	Timeout time.Duration `env:"ASSISTANT_TIMEOUT" default:"60s"`
}

// SecurityConfig holds HTTP hardening settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP and X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RateLimit is the number of requests allowed per client IP per minute (default: 300)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"300"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
