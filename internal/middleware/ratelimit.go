package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/fieldops/fieldops/internal/safego"
	"github.com/fieldops/fieldops/internal/telemetry"
)

// RateLimitConfig is a token bucket: Burst requests at once, refilled at
// RequestsPerMinute.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Result is the outcome of one Allow call
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter shares its buckets between every replica through redis
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter builds a limiter named name on top of rdb
func NewRedisLimiter(rdb redis.UniversalClient, name string, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: cfg.RequestsPerMinute, Burst: cfg.Burst, Period: time.Minute},
		prefix:  "fieldops:" + name + ":",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Allowed: res.Allowed > 0, Remaining: res.Remaining, RetryAfter: res.RetryAfter}, nil
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter keeps token buckets in process memory. Used when redis is not
// configured and as the fallback when redis is unreachable.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, buckets: map[string]*bucket{}, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	perSecond := float64(l.cfg.RequestsPerMinute) / 60
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastUpdate: now}
		l.buckets[key] = b
	} else {
		b.tokens = math.Min(float64(l.cfg.Burst), b.tokens+now.Sub(b.lastUpdate).Seconds()*perSecond)
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Result{Allowed: true, Remaining: int(b.tokens)}, nil
	}
	retry := time.Minute
	if perSecond > 0 {
		retry = time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	}
	return Result{Allowed: false, RetryAfter: retry}, nil
}

// Sweep drops buckets idle for longer than idle
func (l *MemoryLimiter) Sweep(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	for k, b := range l.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// StartSweeper sweeps idle buckets every interval until ctx is done
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	safego.Every(ctx, "ratelimit-sweeper", interval, func() bool {
		l.Sweep(10 * time.Minute)
		return true
	})
}

// FallbackLimiter consults primary and switches to fallback for any call where
// primary errors, so a redis outage degrades to per-replica limits instead of
// failing requests.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
}

// NewFallbackLimiter wraps primary with an in-process fallback
func NewFallbackLimiter(primary, fallback Limiter) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback}
}

func (l *FallbackLimiter) Allow(ctx context.Context, key string) (Result, error) {
	res, err := l.primary.Allow(ctx, key)
	if err == nil {
		return res, nil
	}
	slog.WarnContext(ctx, "rate limiter unavailable, using in-process fallback", "error", err)
	return l.fallback.Allow(ctx, key)
}

// RateLimitMiddleware rejects requests over the limit with 429. name labels the
// fieldops_rate_limited_total counter. Limiter errors let the request through.
func RateLimitMiddleware(name string, limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), rateLimitKey(c))
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "rate limiter failed", "limiter", name, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			telemetry.RateLimitedTotal.WithLabelValues(name).Inc()
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

// rateLimitKey prefers the authenticated user over the client address
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}
