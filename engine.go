package goTenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/internal/limiters"
	"github.com/MrEthical07/goTenant/internal/notify"
	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/password"
	"github.com/MrEthical07/goTenant/store"
)

// Engine is the identity and billing core. Build one with New; all methods
// are safe for concurrent use.
type Engine struct {
	config    Config
	stores    store.Backend
	gateway   billing.Gateway
	catalog   *billing.Catalog
	redis     redis.UniversalClient
	jwt       *jwt.Manager
	passwords *password.Hasher
	totp      *totpManager
	social    SocialVerifier
	lockout   *limiters.Lockout
	requests  *limiters.RequestLimiter
	twoFactor *limiters.TwoFactor
	planLock  *planLock
	keyCache  *expirable.LRU[string, store.APIKey]
	notifier  *notify.Dispatcher
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// Close drains queued notifications. The store, gateway and Redis client
// belong to the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifier.Close()
}

// Metrics returns the engine's collectors, nil when metrics are disabled.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsHandler serves the engine's Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.Metrics().Handler()
}

// Plans returns the configured catalog.
func (e *Engine) Plans() []billing.Plan {
	if e == nil {
		return nil
	}
	return e.catalog.Plans()
}

func (e *Engine) ready() error {
	if e == nil || e.stores == nil || e.jwt == nil {
		return ErrEngineNotReady
	}
	return nil
}

// storeErr maps store sentinels onto engine errors. notFound replaces
// store.ErrNotFound when set.
func storeErr(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrUserExists
	case errors.Is(err, store.ErrNotFound):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) getUser(ctx context.Context, id string) (*store.User, error) {
	u, err := e.stores.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	return u, nil
}

func (e *Engine) getAccount(ctx context.Context, id string) (*store.Account, error) {
	a, err := e.stores.GetAccount(ctx, id)
	if err != nil {
		return nil, storeErr(err, ErrAccountNotFound)
	}
	return a, nil
}

func (e *Engine) plan(id string) (billing.Plan, error) {
	if id == "" {
		id = billing.FreePlan
	}
	p, ok := e.catalog.Get(id)
	if !ok {
		return billing.Plan{}, billingError(CodeUnknownPlan)
	}
	return p, nil
}

// throttle applies the request limiter to an unauthenticated action.
func (e *Engine) throttle(ctx context.Context, action, identifier, ip string) error {
	if e.requests == nil {
		return nil
	}
	err := e.requests.Enforce(ctx, action, identifier, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRateLimited):
		return authError(CodeRateLimited)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func strPtr(s string) *string        { return &s }
func boolPtr(b bool) *bool           { return &b }
func timePtr(t time.Time) *time.Time { return &t }
func link(base, token string) string { return base + "?token=" + token }
