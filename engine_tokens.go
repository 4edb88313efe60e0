package goTenant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
)

// IssueToken signs a session token for claims and stores its row. An empty
// SessionID gets a fresh UUID; ttl <= 0 uses Token.TTL.
func (e *Engine) IssueToken(ctx context.Context, claims Claims, ttl time.Duration) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if claims.SessionID == "" {
		claims.SessionID = uuid.NewString()
	}
	if claims.Provider == "" {
		claims.Provider = ProviderApp
	}
	if ttl <= 0 {
		ttl = e.config.Token.TTL
	}

	sc := jwt.SessionClaims{
		AccountID:  claims.AccountID,
		UserID:     claims.UserID,
		Permission: claims.Permission.String(),
		Provider:   claims.Provider,
		Unverified: claims.Unverified,
	}
	sc.ID = claims.SessionID
	token, err := e.jwt.CreateSession(sc, ttl)
	if err != nil {
		return "", err
	}

	now := e.now().UTC()
	if err := e.stores.SaveToken(ctx, store.Token{
		ID:        claims.SessionID,
		UserID:    claims.UserID,
		Provider:  claims.Provider,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	}); err != nil {
		return "", storeErr(err, nil)
	}
	e.metrics.tokenEvent("issued", 1)
	return token, nil
}

// VerifyToken checks the signature and expiry of a session token. It does
// not consult the token store.
func (e *Engine) VerifyToken(token string) (*Claims, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	sc, err := e.jwt.ParseSession(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, authError(CodeExpired)
		}
		return nil, authError(CodeInvalid)
	}
	level, err := permission.Parse(sc.Permission)
	if err != nil {
		return nil, authError(CodeInvalid)
	}
	c := &Claims{
		SessionID:  sc.SessionID(),
		AccountID:  sc.AccountID,
		UserID:     sc.UserID,
		Permission: level,
		Provider:   sc.Provider,
		Unverified: sc.Unverified,
	}
	if sc.ExpiresAt != nil {
		c.ExpiresAt = sc.ExpiresAt.Time
	}
	return c, nil
}

// Authorize verifies token, requires its session row to be active and its
// permission to include required. Unverified sessions are refused.
func (e *Engine) Authorize(ctx context.Context, token string, required permission.Level) (*Claims, error) {
	return e.authorize(ctx, token, required, false)
}

// AuthorizeUnverified is Authorize for routes an unverified user may reach,
// such as resending the verification email.
func (e *Engine) AuthorizeUnverified(ctx context.Context, token string, required permission.Level) (*Claims, error) {
	return e.authorize(ctx, token, required, true)
}

func (e *Engine) authorize(ctx context.Context, token string, required permission.Level, allowUnverified bool) (*Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	claims, err := e.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	row, err := e.stores.GetToken(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, authError(CodeRevoked)
		}
		return nil, storeErr(err, nil)
	}
	if !row.Active {
		return nil, authError(CodeRevoked)
	}

	if claims.Unverified && !allowUnverified {
		return nil, authError(CodeUnverified)
	}
	if !claims.Permission.Includes(required) {
		return nil, authError(CodeForbidden)
	}
	return claims, nil
}

// Revoke marks every active token matching sel inactive and returns how
// many changed.
func (e *Engine) Revoke(ctx context.Context, sel TokenSelector) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if sel.UserID == "" {
		return 0, errors.New("token selector requires a user id")
	}
	n, err := e.stores.RevokeTokens(ctx, sel)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	e.metrics.tokenEvent("revoked", n)
	return n, nil
}

// SignOut revokes only the session the claims came from.
func (e *Engine) SignOut(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return authError(CodeInvalid)
	}
	_, err := e.Revoke(ctx, TokenSelector{UserID: claims.UserID, ID: claims.SessionID})
	return err
}
