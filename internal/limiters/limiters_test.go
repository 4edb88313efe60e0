package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockoutDoublesPerStrike(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewLockout(rdb, "gt", LockoutConfig{
		Enabled:     true,
		Threshold:   3,
		Window:      time.Minute,
		Duration:    time.Minute,
		MaxDuration: 3 * time.Minute,
	})

	lockFor := func() time.Duration {
		var d time.Duration
		for i := 0; i < 3; i++ {
			got, err := l.RecordFailure(ctx, "Ann@example.com")
			if err != nil {
				t.Fatalf("RecordFailure: %v", err)
			}
			d = got
		}
		return d
	}

	if d := lockFor(); d != time.Minute {
		t.Fatalf("first lock = %v, want 1m", d)
	}
	if _, err := l.Check(ctx, "ann@example.com"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	mr.FastForward(61 * time.Second)
	if _, err := l.Check(ctx, "ann@example.com"); err != nil {
		t.Fatalf("lock should have expired: %v", err)
	}
	if d := lockFor(); d != 2*time.Minute {
		t.Fatalf("second lock = %v, want 2m", d)
	}
	mr.FastForward(121 * time.Second)
	if d := lockFor(); d != 3*time.Minute {
		t.Fatalf("third lock = %v, want capped 3m", d)
	}

	if err := l.Reset(ctx, "ann@example.com"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := l.Check(ctx, "ann@example.com"); err != nil {
		t.Fatalf("reset should unlock: %v", err)
	}
}

func TestLockoutDisabledAndNil(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLockout(rdb, "gt", LockoutConfig{Enabled: false, Threshold: 1, Duration: time.Minute})
	if d, err := l.RecordFailure(context.Background(), "a@b.c"); d != 0 || err != nil {
		t.Fatalf("disabled lockout must not lock: %v %v", d, err)
	}
	var nilLockout *Lockout
	if _, err := nilLockout.Check(context.Background(), "a@b.c"); err != nil {
		t.Fatalf("nil lockout: %v", err)
	}
}

func TestRequestLimiterPerIdentifierAndIP(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewRequestLimiter(rdb, "gt", RequestConfig{MaxAttempts: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		if err := l.Enforce(ctx, "magic", "a@b.c", "1.1.1.1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := l.Enforce(ctx, "magic", "a@b.c", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Enforce(ctx, "magic", "other@b.c", "1.1.1.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("ip budget should be spent, got %v", err)
	}
	if err := l.Enforce(ctx, "reset", "a@b.c", "1.1.1.1"); err != nil {
		t.Fatalf("actions are counted separately: %v", err)
	}
}

func TestTwoFactorAttemptsAndReplay(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewTwoFactor(rdb, "gt", TwoFactorConfig{MaxAttempts: 2, Cooldown: time.Minute})

	if err := l.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := l.RecordFailure(ctx, "u1"); !errors.Is(err, ErrTwoFactorRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrTwoFactorRateLimited) {
		t.Fatalf("Check should report limit, got %v", err)
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("after reset: %v", err)
	}

	if err := l.MarkUsed(ctx, "u1", 1000, time.Minute); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := l.MarkUsed(ctx, "u1", 1000, time.Minute); !errors.Is(err, ErrCodeReused) {
		t.Fatalf("expected ErrCodeReused, got %v", err)
	}
	if err := l.MarkUsed(ctx, "u1", 1001, time.Minute); err != nil {
		t.Fatalf("next step: %v", err)
	}
}
