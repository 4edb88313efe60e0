package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when an action exceeds its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRateUnavailable indicates the throttle backend is unreachable.
	ErrRateUnavailable = errors.New("rate limiter unavailable")
)

// RequestConfig bounds how often one action may run per identifier and per IP.
type RequestConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// RequestLimiter is a fixed-window counter for unauthenticated actions such
// as sign-up, magic links and password resets.
type RequestLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config RequestConfig
}

func NewRequestLimiter(redisClient redis.UniversalClient, prefix string, cfg RequestConfig) *RequestLimiter {
	return &RequestLimiter{redis: redisClient, prefix: prefix, config: cfg}
}

// Enforce counts one attempt at action for identifier and ip (either may be
// empty) and fails once either counter passes MaxAttempts.
func (l *RequestLimiter) Enforce(ctx context.Context, action, identifier, ip string) error {
	if l == nil || l.redis == nil || l.config.MaxAttempts <= 0 {
		return nil
	}
	if identifier != "" {
		if err := l.enforceKey(ctx, l.prefix+":rl:"+action+":id:"+strings.ToLower(identifier)); err != nil {
			return err
		}
	}
	if ip != "" {
		if err := l.enforceKey(ctx, l.prefix+":rl:"+action+":ip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *RequestLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRateUnavailable, err)
		}
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}
