// Package storage holds the configuration shared by gatehouse's persistence backends.
//
// # Backends
//
//   - sqlstore: PostgreSQL (primary + read replicas, lib/pq) or SQLite (mattn/go-sqlite3)
//   - memory: in-process store for development and tests
//   - objectstore: S3-compatible bucket for organization logos
//
// Redis is optional and only backs the distributed login rate limiter; see NewRedisClient.
package storage
