package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goTenant/permission"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key (email, api key) is already taken.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Account is a billing tenant.
type Account struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Plan                 string    `json:"plan,omitempty"`
	Active               bool      `json:"active"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// AccountUpdate carries the fields to change; nil fields are left alone.
// An empty string clears a reference.
type AccountUpdate struct {
	Name                 *string
	Plan                 *string
	Active               *bool
	StripeCustomerID     *string
	StripeSubscriptionID *string
}

// User is an identity that may belong to several accounts.
type User struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	Name             string            `json:"name"`
	PasswordHash     string            `json:"password_hash,omitempty"`
	Verified         bool              `json:"verified"`
	Disabled         bool              `json:"disabled"`
	TwoFactorEnabled bool              `json:"two_factor_enabled"`
	TwoFactorSecret  string            `json:"two_factor_secret,omitempty"`
	BackupCodeHash   string            `json:"backup_code_hash,omitempty"`
	DefaultAccountID string            `json:"default_account_id"`
	SocialIDs        map[string]string `json:"social_ids,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	LastActive       time.Time         `json:"last_active"`
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool { return u != nil && u.PasswordHash != "" }

// UserUpdate carries the fields to change; nil fields are left alone.
type UserUpdate struct {
	Name             *string
	PasswordHash     *string
	Verified         *bool
	Disabled         *bool
	TwoFactorEnabled *bool
	TwoFactorSecret  *string
	BackupCodeHash   *string
	DefaultAccountID *string
	LastActive       *time.Time
	// SocialProvider and SocialID link a social identity when both are set.
	SocialProvider string
	SocialID       string
}

// Membership ties a user to an account with a permission level.
type Membership struct {
	UserID     string           `json:"user_id"`
	AccountID  string           `json:"account_id"`
	Permission permission.Level `json:"permission"`
}

// Token is the persisted half of a session credential.
type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// TokenSelector picks the tokens a revocation applies to. UserID is required;
// ID and Provider narrow the match when set.
type TokenSelector struct {
	UserID   string
	ID       string
	Provider string
}

// Matches reports whether t is covered by the selector.
func (s TokenSelector) Matches(t Token) bool {
	if t.UserID != s.UserID {
		return false
	}
	if s.ID != "" && t.ID != s.ID {
		return false
	}
	if s.Provider != "" && t.Provider != s.Provider {
		return false
	}
	return true
}

// LoginEvent records one successful credential check.
type LoginEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord is one metered billing period for an account. A nil PeriodEnd
// marks the open record. The Stripe references are joined from the account
// when records are listed for reporting.
type UsageRecord struct {
	ID                   string     `json:"id"`
	AccountID            string     `json:"account_id"`
	PeriodStart          time.Time  `json:"period_start"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	Quantity             int64      `json:"quantity"`
	Reported             bool       `json:"reported"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
}

// Open reports whether the record still accrues usage.
func (r UsageRecord) Open() bool { return r.PeriodEnd == nil && !r.Reported }

// APIKey grants scoped machine access to one account.
type APIKey struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Scopes    []string  `json:"scopes"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationSetting toggles one notification for a user on an account.
type NotificationSetting struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByCustomer(ctx context.Context, customerID string) (*Account, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) error
	DeleteAccount(ctx context.Context, id string) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserBySocial(ctx context.Context, provider, socialID string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	// ConsumeBackupCode clears the stored backup code hash only if it still
	// equals hash, and reports whether it did.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
	// UnverifiedUsers lists users created in [from, to) that are not verified.
	UnverifiedUsers(ctx context.Context, from, to time.Time) ([]User, error)
}

type MembershipStore interface {
	AddMember(ctx context.Context, m Membership) error
	GetMember(ctx context.Context, accountID, userID string) (*Membership, error)
	ListMembers(ctx context.Context, accountID string) ([]Membership, error)
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)
	UpdatePermission(ctx context.Context, accountID, userID string, level permission.Level) error
	RemoveMember(ctx context.Context, accountID, userID string) error
}

type TokenStore interface {
	SaveToken(ctx context.Context, t Token) error
	GetToken(ctx context.Context, userID, id string) (*Token, error)
	// RevokeTokens marks matching active tokens inactive and returns how many changed.
	RevokeTokens(ctx context.Context, sel TokenSelector) (int, error)
	DeleteTokens(ctx context.Context, userID string) error
}

type LoginStore interface {
	RecordLogin(ctx context.Context, ev LoginEvent) error
	// RecentLogins returns up to limit events for the user, newest first,
	// skipping excludeID.
	RecentLogins(ctx context.Context, userID, excludeID string, limit int) ([]LoginEvent, error)
}

type UsageStore interface {
	OpenUsage(ctx context.Context, accountID string) (*UsageRecord, error)
	// IncrementUsage adds qty to the open record and reports whether one existed.
	IncrementUsage(ctx context.Context, accountID string, qty int64) (bool, error)
	CurrentUsage(ctx context.Context, accountID string) (*UsageRecord, error)
	UsageTotal(ctx context.Context, accountID string, start, end time.Time) (int64, error)
	// UnreportedUsage lists open records and closed ones still awaiting a report.
	UnreportedUsage(ctx context.Context) ([]UsageRecord, error)
	// CloseUsage ends the account's open period and returns it with its final
	// quantity. With reopen set the next period is opened in the same step,
	// so no increment lands between the two. ErrNotFound when none is open.
	CloseUsage(ctx context.Context, accountID string, reopen bool) (*UsageRecord, error)
	// MarkUsageReported flags closed records among ids as reported and
	// returns how many changed. Open records are left alone.
	MarkUsageReported(ctx context.Context, ids []string) (int, error)
}

type KeyStore interface {
	CreateKey(ctx context.Context, k APIKey) error
	GetKeyBySecret(ctx context.Context, key string) (*APIKey, error)
	ListKeys(ctx context.Context, accountID string) ([]APIKey, error)
	SetKeyActive(ctx context.Context, accountID, id string, active bool) error
	DeleteKeys(ctx context.Context, accountID string) error
}

type NotificationStore interface {
	SaveNotificationSettings(ctx context.Context, settings []NotificationSetting) error
	// NotificationEnabled reports the setting; a missing setting is false.
	NotificationEnabled(ctx context.Context, userID, accountID, name string) (bool, error)
	DeleteNotificationSettings(ctx context.Context, accountID string) error
}

// Backend is the full set of model operations. Both the Redis and the SQL
// adapters implement it; callers pick one at startup.
type Backend interface {
	AccountStore
	UserStore
	MembershipStore
	TokenStore
	LoginStore
	UsageStore
	KeyStore
	NotificationStore
}
