// Package ratelimit implements the C11 per-client request budget: a Redis
// leaky bucket keyed by (clientID, endpoint), incremented with INCR and
// expired with EXPIRE, the same primitive guardian and websearch use for
// their own internal rate limits.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabfab/ragsentry/internal/domain"
)

// Limiter enforces a fixed request budget per minute-bucketed window.
type Limiter struct {
	redis *redis.Client
}

// New constructs a Limiter.
func New(redisClient *redis.Client) *Limiter {
	return &Limiter{redis: redisClient}
}

// Allow checks whether clientID may perform one more request against
// endpoint within its per-minute budget. It returns a
// *domain.RateLimitedError with a RetryAfter hint when the budget is exhausted.
// A Redis failure fails open: an unavailable limiter never blocks a
// request, since losing rate-limit enforcement is a lesser failure than
// losing the service entirely.
func (l *Limiter) Allow(ctx context.Context, clientID, endpoint string, limitPerMin int) error {
	if l.redis == nil || limitPerMin <= 0 {
		return nil
	}

	now := time.Now()
	bucket := now.Unix() / 60
	key := fmt.Sprintf("ratelimit:%s:%s:%d", endpoint, clientID, bucket)

	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil
	}
	if n == 1 {
		l.redis.Expire(ctx, key, time.Minute)
	}
	if int(n) <= limitPerMin {
		return nil
	}

	retryAfter := time.Duration(60-(now.Unix()%60)) * time.Second
	return &domain.RateLimitedError{RetryAfter: retryAfter}
}
