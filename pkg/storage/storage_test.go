package storage

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"memory", Config{Type: TypeMemory}, false},
		{"postgres without url", Config{Type: TypePostgres}, true},
		{"postgres", Config{Type: TypePostgres, PostgresURL: "postgres://localhost/gatehouse"}, false},
		{"sqlite without path", Config{Type: TypeSQLite}, true},
		{"unknown", Config{Type: "filesystem"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(Config{RedisURL: "redis://" + mr.Addr(), RedisPoolSize: 4})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 4, client.Options().PoolSize)

	_, err = NewRedisClient(Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}
