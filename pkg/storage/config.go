package storage

import (
	"fmt"
	"time"
)

// Backend types
const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeMemory   = "memory"
)

// Config for storage backends
type Config struct {
	Type string `yaml:"type"` // "postgres", "sqlite", "memory"

	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`

	// SQLite config
	SQLitePath string `yaml:"sqlite_path"`

	// S3 config (organization logos)
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"-"`
	S3SecretKey    string `yaml:"-"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	// Redis config (distributed rate limiting)
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"-"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeSQLite,
		SQLitePath:       "gatehouse.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Type {
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case TypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case TypeMemory:
	default:
		return fmt.Errorf("invalid storage type: %q (must be postgres, sqlite or memory)", c.Type)
	}
	return nil
}

// LogosEnabled reports whether an S3 bucket is configured for organization logos.
func (c Config) LogosEnabled() bool {
	return c.S3Bucket != ""
}
