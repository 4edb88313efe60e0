package social

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://accounts.example.com"
	testClientID = "client-123"
)

func newTestVerifier(t *testing.T, tokenURL string) (*Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := NewStaticVerifier(ProviderConfig{
		Name:         "google",
		IssuerURL:    testIssuer,
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/callback",
	}, keys, oauth2.Endpoint{AuthURL: testIssuer + "/auth", TokenURL: tokenURL})
	return v, key
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "g-42",
		"email":          "ann@example.com",
		"email_verified": true,
		"name":           "Ann",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestVerify(t *testing.T) {
	v, key := newTestVerifier(t, "")
	id, err := v.Verify(context.Background(), "google", signIDToken(t, key, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "google", id.Provider)
	assert.Equal(t, "g-42", id.Subject)
	assert.Equal(t, "ann@example.com", id.Email)
	assert.True(t, id.EmailVerified)
}

func TestVerifyRejects(t *testing.T) {
	v, key := newTestVerifier(t, "")
	ctx := context.Background()

	wrongAud := baseClaims()
	wrongAud["aud"] = "someone-else"
	_, err := v.Verify(ctx, "google", signIDToken(t, key, wrongAud))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = v.Verify(ctx, "google", signIDToken(t, key, expired))
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(ctx, "google", signIDToken(t, other, baseClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noEmail := baseClaims()
	delete(noEmail, "email")
	_, err = v.Verify(ctx, "google", signIDToken(t, key, noEmail))
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = v.Verify(ctx, "github", "x")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestExchange(t *testing.T) {
	var key *rsa.PrivateKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     signIDToken(t, key, baseClaims()),
		})
	}))
	defer srv.Close()

	v, k := newTestVerifier(t, srv.URL)
	key = k

	id, err := v.Exchange(context.Background(), "google", "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "g-42", id.Subject)

	u, err := v.AuthCodeURL("google", "state-1")
	require.NoError(t, err)
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "client_id="+testClientID)
}
