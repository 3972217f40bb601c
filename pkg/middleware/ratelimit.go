package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns limits for unauthenticated clients, keyed by IP
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// CredentialRateLimitConfig returns the tighter limits applied to sign-up and login.
func CredentialRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

func (c RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the full quota is available again.
	ResetAt time.Time
	// RetryAfter is set on denials: the wait until the next request would be allowed.
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// maxTrackedKeys bounds the in-process limiter's memory; the least recently seen
// clients are evicted first.
const maxTrackedKeys = 100_000

// RateLimiter implements rate limiting using token bucket algorithm. Buckets live in
// an expiring LRU, so idle clients are dropped without a cleanup goroutine.
type RateLimiter struct {
	config  RateLimitConfig
	buckets *lru.LRU[string, *bucket]
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: lru.NewLRU[string, *bucket](maxTrackedKeys, nil, 2*config.WindowDuration),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	capacity := float64(rl.config.capacity())
	rate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()

	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: capacity, lastUpdate: now}
	}

	// Refill tokens based on elapsed time
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastUpdate = now

	d := Decision{Limit: rl.config.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = secondsToDuration((1 - b.tokens) / rate)
	}
	d.Remaining = int(b.tokens)
	d.ResetAt = now.Add(secondsToDuration((capacity - b.tokens) / rate))

	// Add refreshes the entry's TTL
	rl.buckets.Add(key, b)
	return d, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RateLimitMiddleware provides HTTP rate limiting. Authenticated callers are keyed by user
// ID, everyone else by the peer address of the connection.
type RateLimitMiddleware struct {
	user      Limiter
	anonymous Limiter
	name      string
	recorder  observability.Recorder
}

// NewRateLimitMiddleware creates a rate limit middleware. name labels the rate-limited
// metric; recorder may be nil.
func NewRateLimitMiddleware(name string, user, anonymous Limiter, recorder observability.Recorder) *RateLimitMiddleware {
	if recorder == nil {
		recorder = observability.Recorders(nil)
	}
	return &RateLimitMiddleware{user: user, anonymous: anonymous, name: name, recorder: recorder}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limiter, key := m.anonymous, "ip:"+audit.RemoteIP(r)
		if authCtx := GetAuthContext(r); authCtx != nil {
			limiter, key = m.user, "user:"+authCtx.UserID()
		}

		d, err := limiter.Allow(ctx, key)
		if err != nil {
			// Fail open: a broken limiter backend must not take the API down.
			observability.FromContext(ctx).WithError(err).WithField("limiter", m.name).Warn("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, d)
		if !d.Allowed {
			m.recorder.RateLimited(ctx, m.name)
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}
