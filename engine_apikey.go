package goTenant

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/goTenant/internal"
	"github.com/MrEthical07/goTenant/store"
)

// VerifyAPIKey accepts either the raw "key-<hex>" secret or its HTTP Basic
// form, base64("key-<hex>:"), and requires scope to be granted. An empty
// scope only checks the key.
func (e *Engine) VerifyAPIKey(ctx context.Context, key, scope string) (*APIKeyIdentity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	secret, ok := decodeAPIKey(key)
	if !ok {
		return nil, authError(CodeKeyInvalid)
	}

	k, err := e.lookupKey(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !k.Active {
		return nil, authError(CodeKeyInvalid)
	}
	if scope != "" && !slices.Contains(k.Scopes, scope) {
		return nil, authError(CodeScopeDenied)
	}
	return &APIKeyIdentity{
		KeyID:     k.ID,
		AccountID: k.AccountID,
		Name:      k.Name,
		Scopes:    append([]string(nil), k.Scopes...),
	}, nil
}

func (e *Engine) lookupKey(ctx context.Context, secret string) (store.APIKey, error) {
	if e.keyCache != nil {
		if k, ok := e.keyCache.Get(secret); ok {
			return k, nil
		}
	}
	k, err := e.stores.GetKeyBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.APIKey{}, authError(CodeKeyInvalid)
		}
		return store.APIKey{}, storeErr(err, nil)
	}
	if e.keyCache != nil {
		e.keyCache.Add(secret, *k)
	}
	return *k, nil
}

func decodeAPIKey(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if internal.ValidAPIKey(raw) {
		return raw, true
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", false
	}
	user, _, found := strings.Cut(string(decoded), ":")
	if !found || !internal.ValidAPIKey(user) {
		return "", false
	}
	return user, true
}

// CreateAPIKey generates a key for accountID. The account must be on a
// plan. The secret is returned only here and by ListAPIKeys for admins.
func (e *Engine) CreateAPIKey(ctx context.Context, accountID, name string, scopes []string) (*store.APIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Plan == "" {
		return nil, billingError(CodePlanRequired)
	}
	if _, ok := e.catalog.Get(account.Plan); !ok {
		return nil, billingError(CodeUnknownPlan)
	}

	secret, err := internal.NewAPIKey()
	if err != nil {
		return nil, err
	}
	k := store.APIKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      strings.TrimSpace(name),
		Key:       secret,
		Scopes:    normalizeScopes(scopes),
		Active:    true,
		CreatedAt: e.now().UTC(),
	}
	if err := e.stores.CreateKey(ctx, k); err != nil {
		return nil, storeErr(err, nil)
	}
	e.log.Info().Str("account_id", accountID).Str("key_id", k.ID).Msg("api key created")
	e.notifyOwners(ctx, accountID, TemplateNewAPIKey, map[string]string{"name": k.Name})
	return &k, nil
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// RevokeAPIKey deactivates one key. Cached verifications are purged so the
// key stops working at once on this instance.
func (e *Engine) RevokeAPIKey(ctx context.Context, accountID, keyID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.stores.SetKeyActive(ctx, accountID, keyID, false); err != nil {
		return storeErr(err, ErrAPIKeyInvalid)
	}
	if e.keyCache != nil {
		e.keyCache.Purge()
	}
	return nil
}

// ListAPIKeys returns the account's keys, oldest first.
func (e *Engine) ListAPIKeys(ctx context.Context, accountID string) ([]store.APIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	keys, err := e.stores.ListKeys(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return keys, nil
}
