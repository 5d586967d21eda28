package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"

	"go-hotspot/log"
)

// RateLimiter allows limit requests per client per window. Counts live in
// Redis when a client is configured so every web instance shares them; the
// in-memory sliding window is used without Redis or when Redis errors.
type RateLimiter struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
	logger *log.Logger

	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration, client *redis.Client, clk clock.Clock, logger *log.Logger) *RateLimiter {
	return &RateLimiter{
		client:   client,
		prefix:   "ratelimit:",
		clock:    clk,
		logger:   logger.Named("ratelimit"),
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.client != nil {
		allowed, err := rl.allowRedis(ctx, key)
		if err == nil {
			return allowed
		}
		rl.logger.Warnw("redis rate limit unavailable, using memory", "error", err)
	}
	return rl.allowMemory(key)
}

// allowRedis counts in a fixed window keyed by the window's start.
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (bool, error) {
	now := rl.clock.Now()
	slot := now.UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(rl.limit), nil
}

func (rl *RateLimiter) allowMemory(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.recent(rl.requests[key], now)
	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

func (rl *RateLimiter) recent(times []time.Time, now time.Time) []time.Time {
	var kept []time.Time
	for _, t := range times {
		if now.Sub(t) < rl.window {
			kept = append(kept, t)
		}
	}
	return kept
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try later."})
			return
		}
		c.Next()
	}
}

// Prune drops memory entries whose requests have all left the window. It is
// run periodically by the scheduler.
func (rl *RateLimiter) Prune(context.Context) error {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, times := range rl.requests {
		kept := rl.recent(times, now)
		if len(kept) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = kept
		}
	}
	return nil
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}
