package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// MemoryLimiter
// ---------------------------------------------------------------------------

func newClockedLimiter(rpm, burst int) (*MemoryLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: rpm, Burst: burst})
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiter_BurstThenRefill(t *testing.T) {
	l, now := newClockedLimiter(60, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, _ := l.Allow(ctx, "k")
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	res, _ := l.Allow(ctx, "k")
	if res.Allowed {
		t.Fatal("request beyond burst allowed")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want (0, 1s]", res.RetryAfter)
	}

	// one token per second at 60 rpm
	*now = now.Add(time.Second)
	if res, _ := l.Allow(ctx, "k"); !res.Allowed {
		t.Error("request after refill denied")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newClockedLimiter(60, 1)
	ctx := context.Background()
	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Fatal("first request for a denied")
	}
	if res, _ := l.Allow(ctx, "b"); !res.Allowed {
		t.Error("first request for b denied")
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l, now := newClockedLimiter(60, 1)
	l.Allow(context.Background(), "old")
	*now = now.Add(time.Hour)
	l.Allow(context.Background(), "new")
	l.Sweep(10 * time.Minute)
	if _, ok := l.buckets["old"]; ok {
		t.Error("idle bucket not swept")
	}
	if _, ok := l.buckets["new"]; !ok {
		t.Error("active bucket swept")
	}
}

// ---------------------------------------------------------------------------
// RedisLimiter
// ---------------------------------------------------------------------------

func newRedisLimiter(t *testing.T, cfg RateLimitConfig) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLimiter(rdb, "login", cfg), mr
}

func TestRedisLimiter_EnforcesBurst(t *testing.T) {
	l, _ := newRedisLimiter(t, RateLimitConfig{RequestsPerMinute: 2, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	res, err := l.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Error("request beyond burst allowed")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}

	other, _ := l.Allow(ctx, "ip:10.0.0.2")
	if !other.Allowed {
		t.Error("a different client shares the bucket")
	}
}

func TestFallbackLimiter_UsesMemoryWhenRedisDown(t *testing.T) {
	primary, mr := newRedisLimiter(t, RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	mr.Close()

	l := NewFallbackLimiter(primary, NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1}))
	ctx := context.Background()
	res, err := l.Allow(ctx, "k")
	if err != nil || !res.Allowed {
		t.Fatalf("Allow() = %+v, %v; want allowed by fallback", res, err)
	}
	res, _ = l.Allow(ctx, "k")
	if res.Allowed {
		t.Error("fallback did not enforce its own limit")
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, errors.New("boom")
}

func serveLimited(l Limiter, n int) []*httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/login", RateLimitMiddleware("login", l), func(c *gin.Context) { c.Status(http.StatusOK) })
	out := make([]*httptest.ResponseRecorder, n)
	for i := range out {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		r.ServeHTTP(w, req)
		out[i] = w
	}
	return out
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	resps := serveLimited(NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 2}), 3)
	if resps[0].Code != http.StatusOK || resps[1].Code != http.StatusOK {
		t.Fatalf("burst requests = %d, %d; want 200, 200", resps[0].Code, resps[1].Code)
	}
	last := resps[2]
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	resps := serveLimited(brokenLimiter{}, 1)
	if resps[0].Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter errors", resps[0].Code)
	}
}
