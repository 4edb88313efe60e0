package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTwoFactorMaxAttempts = 5
	defaultTwoFactorCooldown    = time.Minute
)

var (
	ErrTwoFactorRateLimited = errors.New("two-factor attempts rate limited")
	ErrTwoFactorUnavailable = errors.New("two-factor limiter unavailable")
	// ErrCodeReused is returned when a TOTP step was already accepted.
	ErrCodeReused = errors.New("totp code already used")
)

type TwoFactorConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// TwoFactor limits wrong codes per user and remembers accepted TOTP steps.
type TwoFactor struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewTwoFactor falls back to 5 attempts per minute for zero fields.
func NewTwoFactor(redisClient redis.UniversalClient, prefix string, cfg TwoFactorConfig) *TwoFactor {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTwoFactorMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultTwoFactorCooldown
	}
	return &TwoFactor{redis: redisClient, prefix: prefix, maxAttempts: int64(max), cooldown: cd}
}

func (l *TwoFactor) attemptsKey(userID string) string { return l.prefix + ":2fa:att:" + userID }

func (l *TwoFactor) Check(ctx context.Context, userID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.attemptsKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrTwoFactorRateLimited
	}
	return nil
}

func (l *TwoFactor) RecordFailure(ctx context.Context, userID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := l.attemptsKey(userID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrTwoFactorRateLimited
	}
	return nil
}

func (l *TwoFactor) Reset(ctx context.Context, userID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.attemptsKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	return nil
}

// MarkUsed records TOTP step counter for userID; a second call with the same
// counter within ttl returns ErrCodeReused.
func (l *TwoFactor) MarkUsed(ctx context.Context, userID string, counter int64, ttl time.Duration) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := l.prefix + ":2fa:used:" + userID + ":" + strconv.FormatInt(counter, 10)
	ok, err := l.redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if !ok {
		return ErrCodeReused
	}
	return nil
}
