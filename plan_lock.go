package goTenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// planLock serializes plan changes per account. The lock value is
// "<target plan>|<token>" so a duplicate request for the plan already being
// applied can be told apart from a conflicting one. The TTL bounds how long
// a crashed holder can block the account.
type planLock struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// errSamePlanInFlight means the held lock is applying the requested plan.
var errSamePlanInFlight = errors.New("same plan change in flight")

func newPlanLock(rdb redis.UniversalClient, prefix string, ttl time.Duration) *planLock {
	return &planLock{redis: rdb, prefix: prefix, ttl: ttl}
}

func (l *planLock) key(accountID string) string { return l.prefix + ":planlock:" + accountID }

// acquire takes the account lock for a change to target and returns its
// release func. A held lock yields errSamePlanInFlight when it targets the
// same plan and CodePlanChangeInProgress otherwise.
func (l *planLock) acquire(ctx context.Context, accountID, target string) (func(), error) {
	key := l.key(accountID)
	value := target + "|" + uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		held, err := l.redis.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if heldPlan, _, found := strings.Cut(held, "|"); found && heldPlan == target {
			return nil, errSamePlanInFlight
		}
		return nil, billingError(CodePlanChangeInProgress)
	}
	return func() {
		// the caller's ctx may already be canceled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.redis, []string{key}, value).Err()
	}, nil
}
