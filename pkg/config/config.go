package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for pulse-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// CORSOrigin is the allowed origin for browser clients. Empty disables CORS headers.
	CORSOrigin string `yaml:"cors_origin" env:"CORS_ORIGIN" env-default:""`

	// SessionSecret signs locally issued tokens when no JWKS endpoint is
	// configured. Secret - not in YAML.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"`

	// CredentialsKey encrypts data source connection configs at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`

	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retention RetentionConfig `yaml:"retention"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// Issuer is the expected token issuer.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:"https://auth.pulsehq.io"`

	// JWKSURL is the JWKS endpoint for the issuer's signing keys.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:"https://auth.pulsehq.io/.well-known/jwks.json"`

	// ServiceTokenURL issues service-to-service tokens for internal-service
	// data source probes. Empty disables the token client.
	ServiceTokenURL string `yaml:"service_token_url" env:"AUTH_SERVICE_TOKEN_URL" env-default:""`
}

// DatabaseConfig holds PostgreSQL configuration for the metadata store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"pulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"pulse_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds the cache / pub-sub connection. An empty host disables
// Redis: the result cache degrades to misses and realtime fan-out stays local.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// CacheConfig holds per-kind result cache TTLs in seconds.
type CacheConfig struct {
	DashboardTTL     int `yaml:"dashboard_ttl" env:"CACHE_DASHBOARD_TTL" env-default:"300"`
	VisualizationTTL int `yaml:"visualization_ttl" env:"CACHE_VISUALIZATION_TTL" env-default:"600"`
	QueryTTL         int `yaml:"query_ttl" env:"CACHE_QUERY_TTL" env-default:"180"`
	DatasetTTL       int `yaml:"dataset_ttl" env:"CACHE_DATASET_TTL" env-default:"600"`
	ReportTTL        int `yaml:"report_ttl" env:"CACHE_REPORT_TTL" env-default:"300"`
}

// RealtimeConfig holds websocket broadcaster settings.
type RealtimeConfig struct {
	// DefaultRefreshSeconds applies to realtime dashboards without an interval.
	DefaultRefreshSeconds int `yaml:"default_refresh_seconds" env:"REALTIME_DEFAULT_REFRESH_SECONDS" env-default:"30"`
	// SendQueueSize bounds each subscriber's outbound queue; on saturation
	// the oldest pending frame is dropped.
	SendQueueSize int `yaml:"send_queue_size" env:"REALTIME_SEND_QUEUE_SIZE" env-default:"16"`
}

// SchedulerConfig holds report scheduler settings.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	// CleanupIntervalMinutes is how often expired datasets are reclaimed.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" env:"SCHEDULER_CLEANUP_INTERVAL_MINUTES" env-default:"10"`
	// ArtifactsDir is where object-store deliveries land when no external
	// store is configured.
	ArtifactsDir string `yaml:"artifacts_dir" env:"SCHEDULER_ARTIFACTS_DIR" env-default:"artifacts"`
}

// RetentionConfig bounds how long raw events and aggregates are kept.
type RetentionConfig struct {
	RawDays       int `yaml:"raw_days" env:"RETENTION_RAW_DAYS" env-default:"30"`
	AggregateDays int `yaml:"aggregate_days" env:"RETENTION_AGGREGATE_DAYS" env-default:"365"`
}

// SMTPConfig holds email delivery settings for scheduled reports.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:""`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER" env-default:""`
	Password string `yaml:"-" env:"SMTP_PASSWORD"` // Secret - not in YAML
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"reports@pulsehq.io"`
}

// RegistryConfig holds the service registry heartbeat settings (best-effort;
// an empty URL disables the heartbeat entirely).
type RegistryConfig struct {
	URL              string `yaml:"url" env:"REGISTRY_URL" env-default:""`
	ServiceName      string `yaml:"service_name" env:"REGISTRY_SERVICE_NAME" env-default:"pulse-engine"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds" env:"REGISTRY_HEARTBEAT_SECONDS" env-default:"15"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set.
	// Use HTTPS scheme if TLS is configured.
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// TTLFor returns the configured cache TTL in seconds for a cache kind.
// Unknown kinds get the query TTL.
func (c *CacheConfig) TTLFor(kind string) int {
	switch kind {
	case "dashboard":
		return c.DashboardTTL
	case "visualization":
		return c.VisualizationTTL
	case "dataset":
		return c.DatasetTTL
	case "report":
		return c.ReportTTL
	default:
		return c.QueryTTL
	}
}
