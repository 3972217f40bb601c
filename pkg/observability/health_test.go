package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHealthChecker_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("no dependencies", func(t *testing.T) {
		status := NewHealthChecker(nil, nil, "v1").Check(ctx)
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "v1", status.Version)
		assert.Empty(t, status.Dependencies)
	})

	t.Run("healthy database and redis", func(t *testing.T) {
		_, client := newRedis(t)
		status := NewHealthChecker(fakeDB{}, client, "").Check(ctx)
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
		assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		status := NewHealthChecker(fakeDB{err: errors.New("primary unhealthy")}, nil, "").Check(ctx)
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, "primary unhealthy", status.Dependencies["database"].Message)
	})

	t.Run("optional dependency down is degraded", func(t *testing.T) {
		checker := NewHealthChecker(fakeDB{}, nil, "")
		checker.AddOptional("logos", fakeDB{err: errors.New("bucket unreachable")})
		status := checker.Check(ctx)
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, "bucket unreachable", status.Dependencies["logos"].Message)
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		mr, client := newRedis(t)
		mr.Close()
		status := NewHealthChecker(fakeDB{}, client, "").Check(ctx)
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	})

	t.Run("database down wins over redis down", func(t *testing.T) {
		mr, client := newRedis(t)
		mr.Close()
		status := NewHealthChecker(fakeDB{err: errors.New("down")}, client, "").Check(ctx)
		assert.Equal(t, StatusUnhealthy, status.Status)
	})
}

func TestHealthChecker_Handlers(t *testing.T) {
	t.Run("liveness always ok", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthChecker(fakeDB{err: errors.New("down")}, nil, "").Liveness(w, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("readiness reflects database", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthChecker(fakeDB{err: errors.New("down")}, nil, "").Readiness(w, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, StatusUnhealthy, status.Status)
	})

	t.Run("routes", func(t *testing.T) {
		mux := http.NewServeMux()
		RegisterHealthRoutes(mux, NewHealthChecker(fakeDB{}, nil, ""))
		for _, path := range []string{"/healthz", "/readyz"} {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, http.StatusOK, w.Code, path)
		}
	})
}
