package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

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

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := lookup(envName, field.Tag.Get("envAlt"))
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookup tries the primary variable, then the alternate.
func lookup(primary, alt string) string {
	if v := os.Getenv(primary); v != "" {
		return v
	}
	if alt != "" {
		return os.Getenv(alt)
	}
	return ""
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Data
	if c.Data.File == "" {
		errs = append(errs, "DATA_FILE must not be empty")
	}
	if c.Data.BackupEnabled && c.Data.BackupDir == "" {
		errs = append(errs, "DATA_BACKUP_DIR is required when DATA_BACKUP_ENABLED is true")
	}

	// Grid
	if c.Grid.MaxAttempts <= 0 {
		errs = append(errs, "GRID_MAX_ATTEMPTS must be positive")
	}
	if c.Grid.RetryDelay < 0 {
		errs = append(errs, "GRID_RETRY_DELAY must be non-negative")
	}
	if c.Grid.BatchDelay < 0 {
		errs = append(errs, "GRID_BATCH_DELAY must be non-negative")
	}
	if c.Grid.BatchMax <= 0 {
		errs = append(errs, "GRID_BATCH_MAX must be positive")
	}
	if c.Grid.ElementTimeout <= 0 {
		errs = append(errs, "GRID_ELEMENT_TIMEOUT must be positive")
	}
	if c.Grid.PageLoadTimeout <= 0 {
		errs = append(errs, "GRID_PAGE_LOAD_TIMEOUT must be positive")
	}
	if c.Grid.CursorWait <= 0 {
		errs = append(errs, "GRID_CURSOR_WAIT must be positive")
	}
	if c.Grid.DuplicateThreshold < 0 || c.Grid.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Sprintf("GRID_DUPLICATE_THRESHOLD (%g) must be within 0-1", c.Grid.DuplicateThreshold))
	}

	// Audit
	switch strings.ToLower(c.Audit.Driver) {
	case "none", "memory":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, fmt.Sprintf("AUDIT_DSN is required for AUDIT_DRIVER=%s", c.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("AUDIT_DRIVER (%q) must be one of: none, memory, sqlite, postgres", c.Audit.Driver))
	}
	if c.Audit.MaxConns <= 0 {
		errs = append(errs, "AUDIT_MAX_CONNS must be positive")
	}

	// Assistant
	if c.Assistant.Enabled {
		if c.Assistant.URL == "" {
			errs = append(errs, "ASSISTANT_URL is required when ASSISTANT_ENABLED is true")
		}
		if c.Assistant.Timeout <= 0 {
			errs = append(errs, "ASSISTANT_TIMEOUT must be positive")
		}
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "API_KEYS is required when REQUIRE_API_KEY is true")
	}
	if c.Security.RateLimit < 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be non-negative")
	}

	// Logging
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
// The audit DSN is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Data: {File: %q, Backup: %v}, ", c.Data.File, c.Data.BackupEnabled)
	fmt.Fprintf(&b, "Grid: {Profile: %q, MaxAttempts: %d, RetryDelay: %s, BatchDelay: %s}, ",
		c.Grid.Profile, c.Grid.MaxAttempts, c.Grid.RetryDelay, c.Grid.BatchDelay)
	fmt.Fprintf(&b, "Audit: {Driver: %q, DSN: [MASKED]}, ", c.Audit.Driver)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
