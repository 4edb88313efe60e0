package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig configures progressive sign-in lockout.
type LockoutConfig struct {
	Enabled bool
	// Threshold failures within Window lock the email.
	Threshold int
	Window    time.Duration
	// Duration is the first lock; each further lock doubles it up to MaxDuration.
	Duration    time.Duration
	MaxDuration time.Duration
}

var (
	// ErrLocked is returned while an email is locked out.
	ErrLocked = errors.New("sign-in locked")
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Lockout counts failed password attempts per email.
type Lockout struct {
	redis  redis.UniversalClient
	prefix string
	config LockoutConfig
}

// NewLockout returns a Lockout writing keys under prefix.
func NewLockout(redisClient redis.UniversalClient, prefix string, cfg LockoutConfig) *Lockout {
	if cfg.Window <= 0 {
		cfg.Window = cfg.Duration
	}
	if cfg.MaxDuration < cfg.Duration {
		cfg.MaxDuration = cfg.Duration
	}
	return &Lockout{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *Lockout) key(kind, email string) string {
	return l.prefix + ":lo:" + kind + ":" + strings.ToLower(strings.TrimSpace(email))
}

func (l *Lockout) enabled() bool { return l != nil && l.config.Enabled && l.redis != nil }

// Check returns ErrLocked and the remaining lock time if email is locked.
func (l *Lockout) Check(ctx context.Context, email string) (time.Duration, error) {
	if !l.enabled() {
		return 0, nil
	}
	ttl, err := l.redis.PTTL(ctx, l.key("lock", email)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if ttl > 0 {
		return ttl, ErrLocked
	}
	return 0, nil
}

// RecordFailure counts one failed attempt. When the threshold is reached it
// places a lock whose length doubles with each consecutive lockout, and
// returns that length.
func (l *Lockout) RecordFailure(ctx context.Context, email string) (time.Duration, error) {
	if !l.enabled() || l.config.Threshold <= 0 {
		return 0, nil
	}
	failKey := l.key("fail", email)
	count, err := l.redis.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, failKey, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	if count < int64(l.config.Threshold) {
		return 0, nil
	}

	strikeKey := l.key("strikes", email)
	strikes, err := l.redis.Incr(ctx, strikeKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	d := l.lockDuration(strikes)
	_, err = l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, l.key("lock", email), strikes, d)
		p.Del(ctx, failKey)
		// Strikes decay once the user has been quiet for a full max lock.
		p.Expire(ctx, strikeKey, 2*l.config.MaxDuration)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return d, nil
}

func (l *Lockout) lockDuration(strikes int64) time.Duration {
	d := l.config.Duration
	for i := int64(1); i < strikes && d < l.config.MaxDuration; i++ {
		d *= 2
	}
	if d > l.config.MaxDuration {
		d = l.config.MaxDuration
	}
	return d
}

// Reset clears failures, strikes and any lock after a successful sign-in.
func (l *Lockout) Reset(ctx context.Context, email string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key("fail", email), l.key("strikes", email), l.key("lock", email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
