package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const kindSession = "session"

// Purpose scopes a challenge token to the one exchange it was minted for.
type Purpose string

const (
	PurposeTwoFactor Purpose = "2fa"
	PurposeMagic     Purpose = "magic"
	PurposeUnblock   Purpose = "unblock"
	PurposeReset     Purpose = "reset"
	PurposeVerify    Purpose = "verify"
)

var (
	// ErrExpired is returned for a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for anything that fails to parse or verify.
	ErrInvalid = errors.New("token invalid")
)

// Config holds signing material and lifetimes.
type Config struct {
	SigningMethod SigningMethod
	// Secret is the HS256 key, or the Ed25519 private key (raw or PEM).
	Secret    []byte
	PublicKey []byte
	TTL       time.Duration
	Issuer    string
	Leeway    time.Duration
}

// Manager signs and parses session and challenge tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// SessionClaims is the claim set carried by a session credential. The
// registered ID (jti) is the session id.
type SessionClaims struct {
	Kind       string `json:"knd"`
	AccountID  string `json:"aid"`
	UserID     string `json:"uid"`
	Permission string `json:"perm"`
	Provider   string `json:"provider"`
	Unverified bool   `json:"unverified,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the jti.
func (c *SessionClaims) SessionID() string { return c.ID }

// ChallengeClaims identify a user for a single follow-up step (second
// factor, magic link, unblock, password reset). They carry no account or
// permission and are never accepted as a session.
type ChallengeClaims struct {
	Kind     Purpose `json:"knd"`
	UserID   string  `json:"uid,omitempty"`
	Email    string  `json:"email,omitempty"`
	Provider string  `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case "", MethodHS256:
		cfg.SigningMethod = MethodHS256
		if len(cfg.Secret) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.Secret); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg, now: time.Now}, nil
}

// CreateSession signs claims. ttl <= 0 falls back to the configured TTL.
func (j *Manager) CreateSession(claims SessionClaims, ttl time.Duration) (string, error) {
	if claims.ID == "" || claims.UserID == "" || claims.AccountID == "" {
		return "", errors.New("session claims require jti, uid and aid")
	}
	claims.Kind = kindSession
	claims.RegisteredClaims = j.registered(claims.ID, ttl)
	return j.sign(claims)
}

// ParseSession verifies a session token. Challenge tokens are rejected.
func (j *Manager) ParseSession(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Kind != kindSession || claims.ID == "" || claims.UserID == "" || claims.AccountID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// CreateChallenge signs a challenge for purpose with the given lifetime.
func (j *Manager) CreateChallenge(purpose Purpose, claims ChallengeClaims, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", errors.New("challenge purpose required")
	}
	if ttl <= 0 {
		return "", errors.New("challenge ttl must be > 0")
	}
	claims.Kind = purpose
	claims.RegisteredClaims = j.registered("", ttl)
	return j.sign(claims)
}

// ParseChallenge verifies a challenge token minted for purpose.
func (j *Manager) ParseChallenge(tokenStr string, purpose Purpose) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Kind != purpose {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (j *Manager) registered(id string, ttl time.Duration) jwt.RegisteredClaims {
	if ttl <= 0 {
		ttl = j.config.TTL
	}
	now := j.now()
	return jwt.RegisteredClaims{
		ID:        id,
		Issuer:    j.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	key, err := j.signKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(j.method(), claims).SignedString(key)
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return ErrInvalid
	}
	return nil
}

func (j *Manager) method() jwt.SigningMethod {
	if j.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (j *Manager) signKey() (interface{}, error) {
	if j.config.SigningMethod == MethodEd25519 {
		return parseEdPrivateKey(j.config.Secret)
	}
	return j.config.Secret, nil
}

func (j *Manager) verifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodEd25519 {
		return parseEdPublicKey(j.config.PublicKey)
	}
	return j.config.Secret, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
