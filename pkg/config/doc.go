// Package config provides application configuration from a YAML file and environment
// variables.
//
// # Overview
//
// LoadConfig starts from Default, overlays the YAML file named by GATEHOUSE_CONFIG_FILE (if
// set) and then applies GATEHOUSE_* environment variables, which always win. Secrets (client
// secret, S3 keys, Redis password) are only read from the environment.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_CORS_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	GATEHOUSE_STORAGE_TYPE="postgres"  # postgres, sqlite, memory
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_SQLITE_PATH="gatehouse.db"
//	GATEHOUSE_S3_BUCKET="gatehouse-logos"  # enables logo upload
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"  # shares rate limits across replicas
//
// Sessions and login:
//
//	GATEHOUSE_SESSION_TTL="168h"
//	GATEHOUSE_INVITATION_TTL="48h"
//	GATEHOUSE_COOKIE_SECURE="true"
//	GATEHOUSE_OIDC_ISSUER_URL="https://accounts.example.com"
//
// The same settings as YAML:
//
//	server:
//	  port: "8080"
//	storage:
//	  type: postgres
//	  postgres_url: postgres://localhost/gatehouse
//	auth:
//	  session_ttl: 168h
//	sweeper:
//	  invitation_schedule: "@every 15m"
//	observability:
//	  log_level: info
//
// # Live reload
//
// WatchLogLevel follows the config file with fsnotify and applies log_level changes without
// a restart.
package config
