package goTenant

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/MrEthical07/goTenant/billing"
)

func TestCreateAPIKeyNeedsPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "keys@example.com")

	if _, err := env.engine.CreateAPIKey(ctx, res.AccountID, "ci", nil); !errors.Is(err, ErrPlanRequired) {
		t.Fatalf("key without plan: %v", err)
	}
	if _, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	k, err := env.engine.CreateAPIKey(ctx, res.AccountID, " ci ", []string{"write", "read", "read", " "})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if k.Name != "ci" || len(k.Scopes) != 2 || k.Scopes[0] != "read" || k.Scopes[1] != "write" {
		t.Fatalf("key = %+v", k)
	}
	n := env.sink.waitFor(t, TemplateNewAPIKey)
	if n.Content["name"] != "ci" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "verifykey@example.com")
	if _, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	k, err := env.engine.CreateAPIKey(ctx, res.AccountID, "deploy", []string{"read"})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	id, err := env.engine.VerifyAPIKey(ctx, k.Key, "read")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if id.AccountID != res.AccountID || id.KeyID != k.ID {
		t.Fatalf("identity = %+v", id)
	}

	basic := base64.StdEncoding.EncodeToString([]byte(k.Key + ":"))
	if _, err := env.engine.VerifyAPIKey(ctx, basic, ""); err != nil {
		t.Fatalf("basic form rejected: %v", err)
	}

	_, err = env.engine.VerifyAPIKey(ctx, k.Key, "admin")
	if !errors.Is(err, ErrScopeDenied) || StatusOf(err) != http.StatusForbidden {
		t.Fatalf("scope check: %v", err)
	}
	for _, bad := range []string{"", "key-zz", "not-a-key", base64.StdEncoding.EncodeToString([]byte("key-00:"))} {
		if _, err := env.engine.VerifyAPIKey(ctx, bad, ""); !errors.Is(err, ErrAPIKeyInvalid) {
			t.Fatalf("VerifyAPIKey(%q) = %v", bad, err)
		}
	}
}

func TestRevokeAPIKeyBypassesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "revokekey@example.com")
	if _, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	k, err := env.engine.CreateAPIKey(ctx, res.AccountID, "tmp", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	// warm the cache
	if _, err := env.engine.VerifyAPIKey(ctx, k.Key, ""); err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}

	if err := env.engine.RevokeAPIKey(ctx, res.AccountID, k.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := env.engine.VerifyAPIKey(ctx, k.Key, ""); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("revoked key still verifies: %v", err)
	}

	keys, err := env.engine.ListAPIKeys(ctx, res.AccountID)
	if err != nil || len(keys) != 1 || keys[0].Active {
		t.Fatalf("ListAPIKeys = %+v, %v", keys, err)
	}
}
