package goTenant

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goTenant/permission"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrInvalidCredentials is returned when email/password or social identity
	// do not match a user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when the user's account has been deactivated.
	ErrAccountInactive = errors.New("account deactivated")
	// ErrAccountUnverified is returned for unverified sessions on routes
	// that require a verified email.
	ErrAccountUnverified = errors.New("account not verified")
	// ErrSignInLocked is returned while progressive lockout holds an email.
	ErrSignInLocked = errors.New("sign-in temporarily locked")
	// ErrSignInBlocked is returned when risk assessment blocks a sign-in.
	ErrSignInBlocked = errors.New("sign-in blocked")
	// ErrRateLimited is returned when an unauthenticated action is throttled.
	ErrRateLimited = errors.New("too many requests")

	// ErrTokenExpired is returned for a well-formed session token past expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for a token that fails parsing or signature checks.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenRevoked is returned when the session row is gone or inactive.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrPermissionDenied is returned when the caller's permission level is too low.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAPIKeyInvalid is returned for an unknown, malformed or inactive API key.
	ErrAPIKeyInvalid = errors.New("invalid api key")
	// ErrScopeDenied is returned when a valid API key lacks the requested scope.
	ErrScopeDenied = errors.New("api key scope denied")

	// ErrTwoFactorInvalid is returned for a wrong or replayed TOTP code.
	ErrTwoFactorInvalid = errors.New("invalid verification code")
	// ErrBackupCodeInvalid is returned for a wrong or already used backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrTwoFactorNotEnabled is returned when 2FA is required but not set up.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrTwoFactorEnabled is returned by SetupTwoFactor when 2FA is already on.
	ErrTwoFactorEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorRateLimited is returned after too many wrong codes.
	ErrTwoFactorRateLimited = errors.New("too many verification attempts")

	ErrUserExists       = errors.New("user already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrMemberNotFound   = errors.New("membership not found")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordNotSet   = errors.New("user has no password")

	// ErrSubscriptionExists is returned by CreatePlan for an account that
	// already holds a subscription.
	ErrSubscriptionExists = errors.New("account already has a subscription")
	// ErrPaymentTokenRequired is returned when a paid plan is requested
	// without a payment method.
	ErrPaymentTokenRequired = errors.New("payment token required")
	// ErrPaymentRequired is returned by UpdatePlan for a free account
	// moving to a paid plan.
	ErrPaymentRequired = errors.New("payment required")
	// ErrPaymentIncomplete is returned when a confirmed payment is still
	// incomplete at the gateway.
	ErrPaymentIncomplete = errors.New("payment incomplete")
	// ErrSubscriptionTrialing blocks paid plan changes during a trial.
	ErrSubscriptionTrialing = errors.New("subscription is trialing")
	// ErrSubscriptionCanceled blocks paid plan changes on a canceled subscription.
	ErrSubscriptionCanceled = errors.New("subscription is canceled")
	// ErrSubscriptionActive is returned by UpgradePlan while the current
	// subscription is still active.
	ErrSubscriptionActive = errors.New("subscription is active")
	// ErrNoSubscription is returned when an operation needs a subscription
	// the account does not have.
	ErrNoSubscription = errors.New("account has no subscription")
	// ErrPlanNotFound is returned for a plan id outside the catalog.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanRequired is returned when the account must be on a plan first.
	ErrPlanRequired = errors.New("account has no plan")
	// ErrPlanChangeInProgress is returned when another plan change for the
	// same account holds the lock.
	ErrPlanChangeInProgress = errors.New("plan change already in progress")
	// ErrBillingUnavailable wraps gateway failures.
	ErrBillingUnavailable = errors.New("billing gateway unavailable")
	// ErrInvalidSignature is returned for webhooks that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUsageReport marks a usage record the gateway refused.
	ErrUsageReport = errors.New("usage report failed")

	// ErrStoreUnavailable wraps backend storage failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSocialUnavailable is returned by SignInWithProvider when no
	// social verifier is configured.
	ErrSocialUnavailable = errors.New("social sign-in not configured")
)

// Auth error codes.
const (
	CodeExpired            = "expired"
	CodeInvalid            = "invalid"
	CodeRevoked            = "revoked"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnverified         = "unverified"
	CodeForbidden          = "forbidden"
	CodeInactive           = "account_inactive"
	CodeLocked             = "locked"
	CodeRateLimited        = "rate_limited"
	CodeKeyInvalid         = "invalid_key"
	CodeScopeDenied        = "scope_denied"
)

var authSentinels = map[string]error{
	CodeExpired:            ErrTokenExpired,
	CodeInvalid:            ErrTokenInvalid,
	CodeRevoked:            ErrTokenRevoked,
	CodeInvalidCredentials: ErrInvalidCredentials,
	CodeUnverified:         ErrAccountUnverified,
	CodeForbidden:          ErrPermissionDenied,
	CodeInactive:           ErrAccountInactive,
	CodeLocked:             ErrSignInLocked,
	CodeRateLimited:        ErrRateLimited,
	CodeKeyInvalid:         ErrAPIKeyInvalid,
	CodeScopeDenied:        ErrScopeDenied,
}

// AuthError reports a failed authentication or authorization check.
type AuthError struct {
	Code string
	// RetryAfter is set for locked and rate limited attempts.
	RetryAfter time.Duration
}

func authError(code string) *AuthError { return &AuthError{Code: code} }

func (e *AuthError) Error() string { return e.Unwrap().Error() }

func (e *AuthError) Unwrap() error {
	if err, ok := authSentinels[e.Code]; ok {
		return err
	}
	return ErrTokenInvalid
}

// Status maps the code to an HTTP status.
func (e *AuthError) Status() int {
	switch e.Code {
	case CodeUnverified, CodeForbidden, CodeInactive, CodeScopeDenied:
		return http.StatusForbidden
	case CodeLocked, CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// RiskBlock is returned when a password sign-in scored at the block level or
// the user was already disabled. The user is left disabled and an unblock
// link has been sent.
type RiskBlock struct {
	Level    int
	Disabled bool
}

func (e *RiskBlock) Error() string {
	if e.Disabled {
		return "sign-in blocked: user disabled"
	}
	return "sign-in blocked: suspicious activity"
}

func (e *RiskBlock) Unwrap() error { return ErrSignInBlocked }
func (e *RiskBlock) Status() int   { return http.StatusForbidden }

// PermissionError is a refused membership change. It wraps
// ErrPermissionDenied.
type PermissionError struct {
	Reason permission.Reason
}

func (e *PermissionError) Error() string { return "permission denied: " + string(e.Reason) }
func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }
func (e *PermissionError) Status() int   { return http.StatusForbidden }

// Two-factor error codes.
const (
	CodeInvalidCode       = "invalid_code"
	CodeInvalidBackupCode = "invalid_backup_code"
	CodeNotEnabled        = "not_enabled"
	CodeAlreadyEnabled    = "already_enabled"
	CodeTooManyAttempts   = "too_many_attempts"
)

// TwoFactorError reports a failed second-factor step.
type TwoFactorError struct {
	Code string
}

func (e *TwoFactorError) Error() string { return e.Unwrap().Error() }

func (e *TwoFactorError) Unwrap() error {
	switch e.Code {
	case CodeInvalidBackupCode:
		return ErrBackupCodeInvalid
	case CodeNotEnabled:
		return ErrTwoFactorNotEnabled
	case CodeAlreadyEnabled:
		return ErrTwoFactorEnabled
	case CodeTooManyAttempts:
		return ErrTwoFactorRateLimited
	default:
		return ErrTwoFactorInvalid
	}
}

func (e *TwoFactorError) Status() int {
	switch e.Code {
	case CodeNotEnabled, CodeAlreadyEnabled:
		return http.StatusConflict
	case CodeTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// PaymentAction carries what a client needs to confirm a payment, and what
// it sends back once confirmed.
type PaymentAction struct {
	ClientSecret   string
	CustomerID     string
	SubscriptionID string
}

// BillingError reports a refused or failed plan operation. Cause holds the
// gateway error for CodeGateway.
type BillingError struct {
	Code   string
	Action *PaymentAction
	Cause  error
}

// Billing error codes.
const (
	CodeSubscriptionExists   = "subscription_exists"
	CodePaymentTokenRequired = "payment_token_required"
	CodePaymentRequired      = "payment_required"
	CodePaymentIncomplete    = "payment_incomplete"
	CodeSubscriptionTrialing = "subscription_trialing"
	CodeSubscriptionCanceled = "subscription_canceled"
	CodeSubscriptionActive   = "subscription_active"
	CodeNoSubscription       = "no_subscription"
	CodeUnknownPlan          = "unknown_plan"
	CodePlanRequired         = "plan_required"
	CodePlanChangeInProgress = "plan_change_in_progress"
	CodeGateway              = "gateway_unavailable"
	CodeInvalidSignature     = "invalid_signature"
)

var billingSentinels = map[string]error{
	CodeSubscriptionExists:   ErrSubscriptionExists,
	CodePaymentTokenRequired: ErrPaymentTokenRequired,
	CodePaymentRequired:      ErrPaymentRequired,
	CodePaymentIncomplete:    ErrPaymentIncomplete,
	CodeSubscriptionTrialing: ErrSubscriptionTrialing,
	CodeSubscriptionCanceled: ErrSubscriptionCanceled,
	CodeSubscriptionActive:   ErrSubscriptionActive,
	CodeNoSubscription:       ErrNoSubscription,
	CodeUnknownPlan:          ErrPlanNotFound,
	CodePlanRequired:         ErrPlanRequired,
	CodePlanChangeInProgress: ErrPlanChangeInProgress,
	CodeGateway:              ErrBillingUnavailable,
	CodeInvalidSignature:     ErrInvalidSignature,
}

func billingError(code string) *BillingError { return &BillingError{Code: code} }

func gatewayError(err error) *BillingError { return &BillingError{Code: CodeGateway, Cause: err} }

func (e *BillingError) Error() string {
	msg := e.sentinel().Error()
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *BillingError) sentinel() error {
	if err, ok := billingSentinels[e.Code]; ok {
		return err
	}
	return ErrBillingUnavailable
}

// Unwrap exposes both the code's sentinel and the gateway cause.
func (e *BillingError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.sentinel(), e.Cause}
	}
	return []error{e.sentinel()}
}

func (e *BillingError) Status() int {
	switch e.Code {
	case CodePaymentTokenRequired, CodePaymentRequired, CodePaymentIncomplete, CodePlanRequired:
		return http.StatusPaymentRequired
	case CodeUnknownPlan, CodeInvalidSignature:
		return http.StatusBadRequest
	case CodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}

// UsageError reports one usage record the gateway did not accept. The record
// stays unreported only if closing the batch also failed.
type UsageError struct {
	AccountID string
	RecordID  string
	Cause     error
}

func (e *UsageError) Error() string {
	return "usage report failed for record " + e.RecordID + " (account " + e.AccountID + "): " + e.Cause.Error()
}

func (e *UsageError) Unwrap() []error { return []error{ErrUsageReport, e.Cause} }
func (e *UsageError) Status() int     { return http.StatusBadGateway }

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var s interface{ Status() int }
	if errors.As(err, &s) {
		return s.Status()
	}
	switch {
	case errors.Is(err, ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPasswordTooShort):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
