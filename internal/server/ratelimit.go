package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig bounds inbound traffic. GlobalRPS caps every request the
// server sees; StartLimit caps relay upgrades per client IP per window so one
// publisher cannot churn encoder processes. A Redis address shares the start
// counters across replicas.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	StartLimit    int
	StartWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
	RedisTLS      RedisTLSConfig
}

type rateLimiter struct {
	global       *tokenBucket
	startLimit   int
	startWindow  time.Duration
	startMu      sync.Mutex
	startBuckets map[string]*ipLimiter
	store        tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
	Close(ctx context.Context) error
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		startLimit:   cfg.StartLimit,
		startWindow:  cfg.StartWindow,
		startBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.startLimit < 0 {
		rl.startLimit = 0
	}
	if rl.startWindow <= 0 {
		rl.startWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.startLimit > 0 {
		store, err := newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Timeout:  cfg.RedisTimeout,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowStart admits or throttles a relay upgrade for the given client key.
func (r *rateLimiter) AllowStart(key string) (bool, time.Duration, error) {
	if r == nil || r.startLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("bitriver:relay:start:%s", key), r.startLimit, r.startWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.startMu.Lock()
	limiter, exists := r.startBuckets[key]
	if !exists {
		rate := float64(r.startLimit) / r.startWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.startWindow.Seconds()
		}
		limiter = &ipLimiter{bucket: newTokenBucket(rate, r.startLimit)}
		r.startBuckets[key] = limiter
	}
	limiter.lastSeen = time.Now()
	r.cleanupLocked()
	r.startMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) Close(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close(ctx)
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.startBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.startWindow)
	for key, limiter := range r.startBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.startBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
