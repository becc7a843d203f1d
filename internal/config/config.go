// Package config loads the staging service configuration from environment
// variables, applies defaults and validates the result on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Staging  StagingConfig
	Manifest ManifestConfig
	History  HistoryConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout must outlast the staging timeout (default: 0, no limit)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// RateLimit is API requests per minute per client IP; 0 disables (default: 100)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"100"`

	// ShutdownTimeout bounds draining in-flight staging requests (default: 60s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds run history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty keeps history in memory.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StorageConfig holds storage API and branch settings.
type StorageConfig struct {
	// URL is the storage API base URL (required)
	URL string `env:"STORAGE_API_URL" envAlt:"KBC_URL" required:"true"`

	// Token is the storage API token (required)
	Token string `env:"STORAGE_API_TOKEN" envAlt:"KBC_TOKEN" required:"true"`

	// ProjectID is looked up from the token when empty
	ProjectID string `env:"STORAGE_PROJECT_ID" envAlt:"KBC_PROJECTID"`

	// BranchID is the development branch; empty runs on the default branch
	BranchID string `env:"STORAGE_BRANCH_ID" envAlt:"KBC_BRANCHID"`

	BranchName string `env:"STORAGE_BRANCH_NAME"`

	// DefaultBranchID is looked up from the API when empty
	DefaultBranchID string `env:"STORAGE_DEFAULT_BRANCH_ID"`

	// BranchMode is real or emulated (default: real)
	BranchMode string `env:"STORAGE_BRANCH_MODE" default:"real"`

	RequestTimeout time.Duration `env:"STORAGE_REQUEST_TIMEOUT" default:"30s"`

	MaxRetries int `env:"STORAGE_MAX_RETRIES" default:"3"`

	// RateLimit is requests per second to the storage API (default: 10)
	RateLimit float64 `env:"STORAGE_RATE_LIMIT" default:"10"`

	RateBurst int `env:"STORAGE_RATE_BURST" default:"5"`

	// PollInterval is the initial job poll interval (default: 1s)
	PollInterval time.Duration `env:"STORAGE_POLL_INTERVAL" default:"1s"`

	MaxPollInterval time.Duration `env:"STORAGE_MAX_POLL_INTERVAL" default:"10s"`
}

// StagingConfig holds staging engine settings.
type StagingConfig struct {
	// Timeout bounds the wait for load jobs of one request (default: 15m)
	Timeout time.Duration `env:"STAGING_TIMEOUT" default:"15m"`

	// MaxConcurrent is the maximum number of parallel staging requests (default: 8)
	MaxConcurrent int `env:"STAGING_MAX_CONCURRENT" default:"8"`

	// MaxWaitTime is how long a request waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"STAGING_MAX_WAIT_TIME" default:"30s"`

	// WorkspaceBackend is assumed when a request names none (default: snowflake)
	WorkspaceBackend string `env:"STAGING_WORKSPACE_BACKEND" default:"snowflake"`

	// MetadataConcurrency bounds parallel table detail requests per plan (default: 4)
	MetadataConcurrency int `env:"STAGING_METADATA_CONCURRENCY" default:"4"`
}

// ManifestConfig holds manifest output settings.
type ManifestConfig struct {
	// Dir is the local manifest directory. Ignored when Bucket is set.
	Dir string `env:"MANIFEST_DIR" default:"data/in/tables"`

	// Format is json or yaml (default: json)
	Format string `env:"MANIFEST_FORMAT" default:"json"`

	// Bucket switches manifests to object storage
	Bucket string `env:"MANIFEST_BUCKET"`

	Prefix string `env:"MANIFEST_PREFIX" default:"manifests"`

	Endpoint string `env:"MANIFEST_S3_ENDPOINT"`

	AccessKey string `env:"MANIFEST_S3_ACCESS_KEY"`

	SecretKey string `env:"MANIFEST_S3_SECRET_KEY"`

	Region string `env:"MANIFEST_S3_REGION" default:"us-east-1"`

	UseSSL bool `env:"MANIFEST_S3_USE_SSL" default:"true"`
}

// HistoryConfig holds run history retention settings.
type HistoryConfig struct {
	// Retention is how long finished runs are kept (default: 720h)
	Retention time.Duration `env:"HISTORY_RETENTION" default:"720h"`

	// CheckInterval is how often the purge job runs (default: 24h)
	CheckInterval time.Duration `env:"HISTORY_CHECK_INTERVAL" default:"24h"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey rejects API requests without a valid X-API-Key header
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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

// UseObjectStore reports whether manifests go to object storage.
func (c *ManifestConfig) UseObjectStore() bool {
	return c.Bucket != ""
}
