package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/billing/billingtest"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store/redisstore"
)

func newEngine(t *testing.T) *goTenant.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goTenant.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1

	e, err := goTenant.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStores(redisstore.New(rdb, "mw")).
		WithGateway(billingtest.New()).
		WithNotificationSink(goTenant.NewJSONNotificationSink(io.Discard)).
		Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func signup(t *testing.T, e *goTenant.Engine, email string) *goTenant.SignInResult {
	t.Helper()
	res, err := e.CreateAccount(context.Background(), goTenant.Signup{
		Email:    email,
		Password: "correct-horse-battery",
		Name:     "Guarded",
		IP:       "10.0.0.1",
	})
	require.NoError(t, err)
	return res
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		_, _ = io.WriteString(w, c.UserID)
		return
	}
	if id, ok := APIKeyFromContext(r.Context()); ok {
		_, _ = io.WriteString(w, id.AccountID)
		return
	}
	w.WriteHeader(http.StatusTeapot)
})

func TestRequireRejectsMissingBearer(t *testing.T) {
	e := newEngine(t)
	h := Require(e, permission.User)(okHandler)

	for _, header := range []string{"", "Bearer ", "Token abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestRequireUnverifiedSession(t *testing.T) {
	e := newEngine(t)
	res := signup(t, e, "guard@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)

	rec := httptest.NewRecorder()
	Require(e, permission.User)(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	RequireUnverified(e, permission.Owner)(okHandler).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.UserID, rec.Body.String())

	rec = httptest.NewRecorder()
	RequireUnverified(e, permission.Master)(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAPIKey(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res := signup(t, e, "apikey@example.com")
	_, err := e.CreatePlan(ctx, res.AccountID, goTenant.PlanRequest{Plan: billing.FreePlan})
	require.NoError(t, err)
	k, err := e.CreateAPIKey(ctx, res.AccountID, "ci", []string{"read"})
	require.NoError(t, err)

	h := RequireAPIKey(e, "read")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", k.Key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.AccountID, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(k.Key, "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", k.Key)
	rec = httptest.NewRecorder()
	RequireAPIKey(e, "write")(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBillingWebhook(t *testing.T) {
	e := newEngine(t)
	h := BillingWebhook(e)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/billing", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader("invoice.paid|cus_1|sub_1"))
	req.Header.Set("Stripe-Signature", "forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader("invoice.paid|cus_1|sub_1"))
	req.Header.Set("Stripe-Signature", "valid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &goTenant.AuthError{Code: goTenant.CodeRateLimited, RetryAfter: 30 * time.Second})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("redis: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	assert.Equal(t, "192.0.2.7", clientIP(req, false))
	assert.Equal(t, "203.0.113.5", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.7", clientIP(req, true))
}
