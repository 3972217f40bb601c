package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// EnvConfigFile names the optional YAML file read before environment variables.
const EnvConfigFile = "GATEHOUSE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Sessions, cookies and invitations
	Auth AuthConfig `yaml:"auth"`

	// OIDC login; disabled when the issuer is empty
	SSO sso.Config `yaml:"sso"`

	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`

	// File is the YAML file this configuration was read from, if any.
	File string `yaml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// AuthConfig controls session issuance and invitation lifetime.
type AuthConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	InvitationTTL time.Duration `yaml:"invitation_ttl"`
	CookieName    string        `yaml:"cookie_name"`
	CookieSecure  bool          `yaml:"cookie_secure"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
}

// AuditConfig selects the audit sinks. Events always go to the structured logger; Dir adds
// a rotating JSON-lines file.
type AuditConfig struct {
	Dir      string `yaml:"dir"`
	MaxSize  int64  `yaml:"max_size"`
	MaxFiles int    `yaml:"max_files"`
}

// RateLimitConfig toggles request limiting. Limits are shared through Redis when
// Storage.RedisURL is set.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SweeperConfig schedules the background cleanup jobs (cron syntax).
type SweeperConfig struct {
	Enabled            bool   `yaml:"enabled"`
	SessionSchedule    string `yaml:"session_schedule"`
	InvitationSchedule string `yaml:"invitation_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level; unknown names fall back to info.
func (c ObservabilityConfig) Level() observability.LogLevel {
	level, _ := observability.ParseLogLevel(c.LogLevel)
	return level
}

// OTel converts the settings for observability.InitOTel.
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	// The file sink stays off until a directory is set.
	fileAudit := audit.DefaultFileLoggerConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Auth: AuthConfig{
			SessionTTL:    7 * 24 * time.Hour,
			InvitationTTL: 48 * time.Hour,
			CookieName:    "gatehouse_session",
			CookieSecure:  true,
		},
		Audit: AuditConfig{
			MaxSize:  fileAudit.MaxSize,
			MaxFiles: fileAudit.MaxFiles,
		},
		RateLimit: RateLimitConfig{Enabled: true},
		Sweeper: SweeperConfig{
			Enabled:            true,
			SessionSchedule:    "@every 1h",
			InvitationSchedule: "@every 15m",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration from the YAML file named by GATEHOUSE_CONFIG_FILE, if
// set, and then from environment variables, which take precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(EnvConfigFile, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadServerConfig()
	cfg.loadStorageConfig()
	cfg.loadAuthConfig()
	cfg.loadObservabilityConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.File = path
	return nil
}

// loadServerConfig loads server configuration from environment
func (c *Config) loadServerConfig() {
	s := &c.Server
	s.Host = getEnv("GATEHOUSE_HOST", s.Host)
	s.Port = getEnv("GATEHOUSE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("GATEHOUSE_HEALTH_PORT", s.HealthPort)
	s.CORSOrigins = getEnvList("GATEHOUSE_CORS_ORIGINS", s.CORSOrigins)
}

// loadStorageConfig loads storage configuration from environment
func (c *Config) loadStorageConfig() {
	cfg := &c.Storage
	cfg.Type = getEnv("GATEHOUSE_STORAGE_TYPE", cfg.Type)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("GATEHOUSE_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnvList("GATEHOUSE_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// SQLite config
	cfg.SQLitePath = getEnv("GATEHOUSE_SQLITE_PATH", cfg.SQLitePath)

	// S3 config
	cfg.S3Endpoint = getEnv("GATEHOUSE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("GATEHOUSE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("GATEHOUSE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("GATEHOUSE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("GATEHOUSE_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("GATEHOUSE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	cfg.RedisURL = getEnv("GATEHOUSE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("GATEHOUSE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("GATEHOUSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
}

// loadAuthConfig loads sessions, SSO, audit, rate limiting and sweeper settings.
func (c *Config) loadAuthConfig() {
	a := &c.Auth
	a.SessionTTL = getEnvDuration("GATEHOUSE_SESSION_TTL", a.SessionTTL)
	a.InvitationTTL = getEnvDuration("GATEHOUSE_INVITATION_TTL", a.InvitationTTL)
	a.CookieName = getEnv("GATEHOUSE_COOKIE_NAME", a.CookieName)
	a.CookieSecure = getEnvBool("GATEHOUSE_COOKIE_SECURE", a.CookieSecure)
	a.BcryptCost = getEnvInt("GATEHOUSE_BCRYPT_COST", a.BcryptCost)

	c.SSO.IssuerURL = getEnv("GATEHOUSE_OIDC_ISSUER_URL", c.SSO.IssuerURL)
	c.SSO.ClientID = getEnv("GATEHOUSE_OIDC_CLIENT_ID", c.SSO.ClientID)
	c.SSO.ClientSecret = getEnv("GATEHOUSE_OIDC_CLIENT_SECRET", c.SSO.ClientSecret)
	c.SSO.RedirectURL = getEnv("GATEHOUSE_OIDC_REDIRECT_URL", c.SSO.RedirectURL)
	c.SSO.Scopes = getEnvList("GATEHOUSE_OIDC_SCOPES", c.SSO.Scopes)

	c.Audit.Dir = getEnv("GATEHOUSE_AUDIT_DIR", c.Audit.Dir)
	c.RateLimit.Enabled = getEnvBool("GATEHOUSE_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)

	c.Sweeper.Enabled = getEnvBool("GATEHOUSE_SWEEPER_ENABLED", c.Sweeper.Enabled)
	c.Sweeper.SessionSchedule = getEnv("GATEHOUSE_SWEEPER_SESSION_SCHEDULE", c.Sweeper.SessionSchedule)
	c.Sweeper.InvitationSchedule = getEnv("GATEHOUSE_SWEEPER_INVITATION_SCHEDULE", c.Sweeper.InvitationSchedule)
}

// loadObservabilityConfig loads observability configuration from environment
func (c *Config) loadObservabilityConfig() {
	o := &c.Observability
	o.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.InvitationTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.SSO.Enabled() {
		if err := c.SSO.Validate(); err != nil {
			return fmt.Errorf("invalid sso config: %w", err)
		}
	}
	if c.Sweeper.Enabled && (c.Sweeper.SessionSchedule == "" || c.Sweeper.InvitationSchedule == "") {
		return fmt.Errorf("sweeper schedules are required when the sweeper is enabled")
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
