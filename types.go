package goTenant

import (
	"context"
	"time"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/social"
	"github.com/MrEthical07/goTenant/store"
)

// ProviderApp marks sessions created by password, magic link or 2FA.
const ProviderApp = "app"

// TokenSelector picks the session tokens Revoke applies to.
type TokenSelector = store.TokenSelector

// SocialVerifier turns a provider ID token into a verified identity.
// *social.Verifier implements it.
type SocialVerifier interface {
	Verify(ctx context.Context, provider, rawIDToken string) (*social.Identity, error)
}

// Credentials is a password sign-in. IP and UserAgent fall back to the
// values set with WithClientIP and WithUserAgent.
type Credentials struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Signup creates a user with a fresh account they own.
type Signup struct {
	Email     string
	Password  string
	Name      string
	IP        string
	UserAgent string
}

// Claims are the verified contents of a session token.
type Claims struct {
	SessionID  string
	AccountID  string
	UserID     string
	Permission permission.Level
	Provider   string
	Unverified bool
	ExpiresAt  time.Time
}

// AccountSummary lists one account a user belongs to.
type AccountSummary struct {
	ID         string
	Name       string
	Permission permission.Level
}

// SignInResult is returned by every sign-in path. When TwoFactorRequired is
// set, Token is empty and ChallengeToken must be passed to
// VerifyTwoFactorSignIn.
type SignInResult struct {
	Token              string
	AccountID          string
	UserID             string
	Name               string
	Permission         permission.Level
	Plan               string
	SubscriptionStatus string
	Accounts           []AccountSummary
	Verified           bool
	HasPassword        bool
	RiskLevel          int

	TwoFactorRequired bool
	ChallengeToken    string
}

// TwoFactorEnrollment is shown to the user once, at setup.
type TwoFactorEnrollment struct {
	Secret       string
	ProvisionURI string
}

// APIKeyIdentity is what a verified API key grants.
type APIKeyIdentity struct {
	KeyID     string
	AccountID string
	Name      string
	Scopes    []string
}

// PlanRequest asks for a plan. Confirmed carries the customer and
// subscription ids from an earlier RequiresPaymentAction result once the
// client has confirmed the payment.
type PlanRequest struct {
	Plan         string
	PaymentToken string
	Confirmed    *PaymentAction
}

// PlanResult is the outcome of a plan operation. RequiresPaymentAction
// means nothing was persisted; the client confirms Action.ClientSecret and
// resubmits with Confirmed set.
type PlanResult struct {
	Plan                  string
	Status                string
	NoOp                  bool
	RequiresPaymentAction bool
	Action                *PaymentAction
}

// UsageSummary is the current monthly usage period of an account.
type UsageSummary struct {
	AccountID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Quantity    int64
	Open        *store.UsageRecord
}

// UsageReportResult summarizes one run of the usage job.
type UsageReportResult struct {
	Records  int // unreported records found, open ones included
	Reported int
	Failed   int // left unreported for the next run
	Closed   int // open periods closed this run
	Opened   int
}

// OnboardingResult counts the notifications one onboarding run queued.
type OnboardingResult struct {
	TrialExpiring     int
	TrialExpired      int
	UnverifiedAccount int
}

// Invoice is re-exported for callers that only import the root package.
type Invoice = billing.Invoice

// Card is re-exported for callers that only import the root package.
type Card = billing.Card
