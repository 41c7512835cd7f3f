// Package ratelimit bounds generation requests per identity with a fixed
// window counter kept in a shared TTL cache.
package ratelimit

import (
	"context"
	"time"

	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"go.uber.org/zap"
)

// Counter is the shared cache primitive. IncrWindow must be atomic across
// processes; redisstore.Store implements it with a Lua script.
type Counter interface {
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	// Degraded is set when the counter could not be consulted and the
	// request was let through by the fail-open policy.
	Degraded bool
}

type Limiter struct {
	counter  Counter
	limit    int
	window   time.Duration
	failOpen bool
	log      *zap.Logger
}

func New(counter Counter, limit int, window time.Duration, failOpen bool, log *zap.Logger) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{counter: counter, limit: limit, window: window, failOpen: failOpen, log: log}
}

func Key(id auth.Identity) string {
	return "rate_limit:" + id.String()
}

// Admit increments the caller's window counter and denies once it passes the
// ceiling. Denied requests still increment, which keeps the check a single
// atomic operation; the counter expires with the window either way.
func (l *Limiter) Admit(ctx context.Context, id auth.Identity) (Decision, error) {
	n, err := l.counter.IncrWindow(ctx, Key(id), l.window)
	if err != nil {
		if l.failOpen {
			l.log.Warn("rate limiter unavailable, admitting request",
				zap.Uint64("user_id", id.UserID), zap.Error(err))
			return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, Degraded: true}, nil
		}
		l.log.Error("rate limiter unavailable, rejecting request",
			zap.Uint64("user_id", id.UserID), zap.Error(err))
		return Decision{Limit: l.limit}, &apperr.Error{
			Kind:    apperr.KindRateLimit,
			Code:    apperr.CodeRateLimited,
			Message: "rate limiter unavailable, try again later",
			Err:     err,
		}
	}

	d := Decision{Count: n, Limit: l.limit, Remaining: max(l.limit-int(n), 0)}
	if n > int64(l.limit) {
		return d, apperr.RateLimited("rate limit exceeded, please try again later")
	}
	d.Allowed = true
	return d, nil
}

func (l *Limiter) Window() time.Duration { return l.window }
