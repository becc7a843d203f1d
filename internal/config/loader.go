package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. Tests and the CLI use it to
// layer values that do not come from the process environment.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value, getenv func(string) string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, getenv); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = getenv(alt)
		}

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

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
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
			return fmt.Errorf("invalid number: %w", err)
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
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
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

	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Storage.URL == "" {
		errs = append(errs, "STORAGE_API_URL is required")
	}
	if c.Storage.Token == "" {
		errs = append(errs, "STORAGE_API_TOKEN is required")
	}
	switch strings.ToLower(c.Storage.BranchMode) {
	case "real", "emulated":
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BRANCH_MODE (%q) must be one of: real, emulated", c.Storage.BranchMode))
	}
	if strings.EqualFold(c.Storage.BranchMode, "emulated") && c.Storage.BranchID != "" && c.Storage.BranchName == "" {
		errs = append(errs, "STORAGE_BRANCH_NAME is required for emulated branch storage")
	}
	if c.Storage.RateLimit <= 0 {
		errs = append(errs, "STORAGE_RATE_LIMIT must be positive")
	}
	if c.Storage.PollInterval <= 0 {
		errs = append(errs, "STORAGE_POLL_INTERVAL must be positive")
	}

	if c.Staging.Timeout <= 0 {
		errs = append(errs, "STAGING_TIMEOUT must be positive")
	}
	if c.Staging.MaxConcurrent <= 0 {
		errs = append(errs, "STAGING_MAX_CONCURRENT must be positive")
	}
	if c.Staging.MaxWaitTime <= 0 {
		errs = append(errs, "STAGING_MAX_WAIT_TIME must be positive")
	}
	switch strings.ToLower(c.Staging.WorkspaceBackend) {
	case "snowflake", "bigquery", "redshift", "synapse", "exasol", "teradata":
	default:
		errs = append(errs, fmt.Sprintf("STAGING_WORKSPACE_BACKEND (%q) is not a known backend", c.Staging.WorkspaceBackend))
	}
	if c.Staging.MetadataConcurrency <= 0 {
		errs = append(errs, "STAGING_METADATA_CONCURRENCY must be positive")
	}

	switch strings.ToLower(c.Manifest.Format) {
	case "json", "yaml", "yml":
	default:
		errs = append(errs, fmt.Sprintf("MANIFEST_FORMAT (%q) must be one of: json, yaml", c.Manifest.Format))
	}
	if c.Manifest.UseObjectStore() {
		if c.Manifest.Endpoint == "" {
			errs = append(errs, "MANIFEST_S3_ENDPOINT is required when MANIFEST_BUCKET is set")
		}
		if c.Manifest.AccessKey == "" || c.Manifest.SecretKey == "" {
			errs = append(errs, "MANIFEST_S3_ACCESS_KEY and MANIFEST_S3_SECRET_KEY are required when MANIFEST_BUCKET is set")
		}
	} else if c.Manifest.Dir == "" {
		errs = append(errs, "MANIFEST_DIR is required when MANIFEST_BUCKET is not set")
	}

	if c.History.Retention <= 0 {
		errs = append(errs, "HISTORY_RETENTION must be positive")
	}
	if c.History.CheckInterval <= 0 {
		errs = append(errs, "HISTORY_CHECK_INTERVAL must be positive")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty")
	}

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

// String returns a safe representation for logging. Secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d}, ", mask(c.Database.URL), c.Database.MaxConns)
	fmt.Fprintf(&b, "Storage: {URL: %q, Token: %s, BranchID: %q, Mode: %q}, ",
		c.Storage.URL, mask(c.Storage.Token), c.Storage.BranchID, c.Storage.BranchMode)
	fmt.Fprintf(&b, "Staging: {Timeout: %s, MaxConcurrent: %d}, ", c.Staging.Timeout, c.Staging.MaxConcurrent)
	fmt.Fprintf(&b, "Manifest: {Format: %q, Bucket: %q, SecretKey: %s}, ",
		c.Manifest.Format, c.Manifest.Bucket, mask(c.Manifest.SecretKey))
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %t, APIKeys: %d, TrustedProxies: %v}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys), c.Security.TrustedProxies)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
