package goTenant

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/goTenant/internal/limiters"
	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/password"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/risk"
	"github.com/MrEthical07/goTenant/social"
	"github.com/MrEthical07/goTenant/store"
)

// DefaultAccountName is given to the account created at sign-up.
const DefaultAccountName = "My Account"

const (
	methodPassword = "password"
	methodMagic    = "magic"
	methodSocial   = "social"
	methodTwoFA    = "two_factor"
	methodSwitch   = "switch"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount registers a user with a new account they own, sends the
// verification link and signs them in. The session is marked unverified.
func (e *Engine) CreateAccount(ctx context.Context, req Signup) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip, ua := clientMeta(ctx, req.IP, req.UserAgent)
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if err := e.throttle(ctx, "signup", email, ip); err != nil {
		return nil, err
	}

	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return nil, ErrPasswordTooShort
		}
		return nil, err
	}

	if _, err := e.stores.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, nil)
	}

	user, account, err := e.createOwner(ctx, store.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	verify, err := e.jwt.CreateChallenge(jwt.PurposeVerify, jwt.ChallengeClaims{UserID: user.ID}, e.config.Token.VerifyTTL)
	if err != nil {
		return nil, err
	}
	e.notify(ctx, user.Email, TemplateNewAccount, account.ID, map[string]string{
		"name":   user.Name,
		"verify": link(e.config.Notification.VerifyURL, verify),
	})

	assessment, err := e.recordLogin(ctx, user.ID, ip, ua)
	if err != nil {
		return nil, err
	}
	res, err := e.authenticate(ctx, user, account, ProviderApp, assessment.Level)
	e.metrics.signIn("signup", outcome(err))
	return res, err
}

// createOwner stores u together with a fresh account it owns and the
// default notification settings.
func (e *Engine) createOwner(ctx context.Context, u store.User) (*store.User, *store.Account, error) {
	now := e.now().UTC()
	account := store.Account{
		ID:        uuid.NewString(),
		Name:      DefaultAccountName,
		Active:    true,
		CreatedAt: now,
	}
	if err := e.stores.CreateAccount(ctx, account); err != nil {
		return nil, nil, storeErr(err, nil)
	}

	u.ID = uuid.NewString()
	u.DefaultAccountID = account.ID
	u.CreatedAt = now
	u.LastActive = now
	if err := e.stores.CreateUser(ctx, u); err != nil {
		_ = e.stores.DeleteAccount(ctx, account.ID)
		return nil, nil, storeErr(err, nil)
	}

	if err := e.stores.AddMember(ctx, store.Membership{UserID: u.ID, AccountID: account.ID, Permission: permission.Owner}); err != nil {
		return nil, nil, storeErr(err, nil)
	}
	if err := e.saveDefaultNotifications(ctx, u.ID, account.ID); err != nil {
		return nil, nil, err
	}
	e.log.Info().Str("user_id", u.ID).Str("account_id", account.ID).Msg("account created")
	return &u, &account, nil
}

func (e *Engine) saveDefaultNotifications(ctx context.Context, userID, accountID string) error {
	settings := make([]store.NotificationSetting, 0, len(DefaultNotifications))
	for _, name := range DefaultNotifications {
		settings = append(settings, store.NotificationSetting{UserID: userID, AccountID: accountID, Name: name, Active: true})
	}
	return storeErr(e.stores.SaveNotificationSettings(ctx, settings), nil)
}

// VerifyEmail consumes the link sent at sign-up and marks the user verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	c, err := e.parseChallenge(token, jwt.PurposeVerify)
	if err != nil {
		return err
	}
	if _, err := e.getUser(ctx, c.UserID); err != nil {
		return err
	}
	return storeErr(e.stores.UpdateUser(ctx, c.UserID, store.UserUpdate{Verified: boolPtr(true)}), ErrUserNotFound)
}

// SignIn checks an email and password and applies lockout and the risk
// policy. A suspicious sign-in returns *RiskBlock; a user with 2FA gets a
// challenge instead of a session.
func (e *Engine) SignIn(ctx context.Context, cred Credentials) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip, ua := clientMeta(ctx, cred.IP, cred.UserAgent)
	email := normalizeEmail(cred.Email)

	if remaining, err := e.lockout.Check(ctx, email); err != nil {
		if errors.Is(err, limiters.ErrLocked) {
			e.metrics.signIn(methodPassword, OutcomeLocked)
			return nil, &AuthError{Code: CodeLocked, RetryAfter: remaining}
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	user, err := e.stores.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, nil)
	}
	if user == nil || !user.HasPassword() {
		return nil, e.failPassword(ctx, email)
	}
	ok, err := e.passwords.Verify(cred.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failPassword(ctx, email)
	}
	if e.passwords.NeedsRehash(user.PasswordHash) {
		if h, err := e.passwords.Hash(cred.Password); err == nil {
			_ = e.stores.UpdateUser(ctx, user.ID, store.UserUpdate{PasswordHash: &h})
		}
	}

	account, err := e.getAccount(ctx, user.DefaultAccountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		e.metrics.signIn(methodPassword, OutcomeInactive)
		return nil, authError(CodeInactive)
	}
	if err := e.lockout.Reset(ctx, email); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("lockout reset failed")
	}

	assessment, err := e.recordLogin(ctx, user.ID, ip, ua)
	if err != nil {
		return nil, err
	}

	if assessment.Blocked(e.config.Risk.BlockLevel) || user.Disabled {
		return nil, e.blockSignIn(ctx, user, account.ID, assessment)
	}
	if assessment.Level > e.config.Risk.NotifyLevel {
		e.notifyIfEnabled(ctx, user.ID, user.Email, TemplateNewSignIn, account.ID, signInContent(assessment))
	}

	if user.TwoFactorEnabled {
		return e.twoFactorChallenge(user, ProviderApp, methodPassword, assessment.Level)
	}
	res, err := e.authenticate(ctx, user, account, ProviderApp, assessment.Level)
	e.metrics.signIn(methodPassword, outcome(err))
	return res, err
}

func (e *Engine) failPassword(ctx context.Context, email string) error {
	e.metrics.signIn(methodPassword, OutcomeInvalid)
	if email == "" {
		return authError(CodeInvalidCredentials)
	}
	if _, err := e.lockout.RecordFailure(ctx, email); err != nil {
		e.log.Warn().Err(err).Msg("lockout failure not recorded")
	}
	return authError(CodeInvalidCredentials)
}

// blockSignIn disables the user and mails a magic link that lifts the block.
func (e *Engine) blockSignIn(ctx context.Context, user *store.User, accountID string, a risk.Assessment) error {
	if err := e.stores.UpdateUser(ctx, user.ID, store.UserUpdate{Disabled: boolPtr(true)}); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	token, err := e.jwt.CreateChallenge(jwt.PurposeMagic, jwt.ChallengeClaims{UserID: user.ID}, e.config.Token.MagicTTL)
	if err != nil {
		return err
	}
	e.notify(ctx, user.Email, TemplateBlockedSignIn, accountID, map[string]string{
		"token":  token,
		"unlock": link(e.config.Notification.MagicURL, token),
	})
	e.metrics.signIn(methodPassword, OutcomeBlocked)
	e.log.Warn().Str("user_id", user.ID).Int("risk_level", a.Level).Bool("disabled", user.Disabled).Msg("sign-in blocked")
	return &RiskBlock{Level: a.Level, Disabled: user.Disabled}
}

func (e *Engine) twoFactorChallenge(user *store.User, provider, method string, level int) (*SignInResult, error) {
	token, err := e.jwt.CreateChallenge(jwt.PurposeTwoFactor, jwt.ChallengeClaims{
		Email:    user.Email,
		Provider: provider,
	}, e.config.Token.ChallengeTTL)
	if err != nil {
		return nil, err
	}
	e.metrics.signIn(method, OutcomeTwoFactorRequired)
	return &SignInResult{TwoFactorRequired: true, ChallengeToken: token, RiskLevel: level}, nil
}

// recordLogin appends the login event and scores it against the user's
// earlier logins.
func (e *Engine) recordLogin(ctx context.Context, userID, ip, userAgent string) (risk.Assessment, error) {
	device, browser := risk.Classify(userAgent)
	now := e.now().UTC()
	ev := store.LoginEvent{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:    userID,
		IP:        ip,
		Device:    device,
		Browser:   browser,
		CreatedAt: now,
	}
	if err := e.stores.RecordLogin(ctx, ev); err != nil {
		return risk.Assessment{}, storeErr(err, nil)
	}
	history, err := e.stores.RecentLogins(ctx, userID, ev.ID, e.config.Risk.HistoryLimit)
	if err != nil {
		return risk.Assessment{}, storeErr(err, nil)
	}
	past := make([]risk.Event, 0, len(history))
	for _, h := range history {
		past = append(past, risk.Event{IP: h.IP, Device: h.Device, Browser: h.Browser, Time: h.CreatedAt})
	}
	a := risk.Assess(risk.Event{IP: ip, Device: device, Browser: browser, Time: now}, past)
	e.metrics.risk(a.Level)
	return a, nil
}

func signInContent(a risk.Assessment) map[string]string {
	return map[string]string{
		"ip":      a.Current.IP,
		"device":  a.Current.Device,
		"browser": a.Current.Browser,
		"time":    a.Current.Time.Format(time.RFC1123),
	}
}

// RequestMagicLink mails a short-lived sign-in link when email belongs to a
// user. It succeeds either way.
func (e *Engine) RequestMagicLink(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := e.throttle(ctx, "magic", email, clientIPFromContext(ctx)); err != nil {
		return err
	}
	user, err := e.stores.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Msg("magic link lookup failed")
		}
		return nil
	}
	token, err := e.jwt.CreateChallenge(jwt.PurposeMagic, jwt.ChallengeClaims{UserID: user.ID}, e.config.Token.MagicTTL)
	if err != nil {
		return err
	}
	e.notify(ctx, user.Email, TemplateMagicSignIn, user.DefaultAccountID, map[string]string{
		"token": token,
		"link":  link(e.config.Notification.MagicURL, token),
	})
	return nil
}

// SignInWithMagicLink exchanges a magic token for a session. Risk is
// reported to the user but never blocks, so the same link lifts a risk block.
func (e *Engine) SignInWithMagicLink(ctx context.Context, token, ip, userAgent string) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip, userAgent = clientMeta(ctx, ip, userAgent)
	c, err := e.parseChallenge(token, jwt.PurposeMagic)
	if err != nil {
		e.metrics.signIn(methodMagic, OutcomeInvalid)
		return nil, err
	}
	user, err := e.stores.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, authError(CodeInvalid)
		}
		return nil, storeErr(err, nil)
	}

	assessment, err := e.recordLogin(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	if assessment.Level > e.config.Risk.MagicNotifyLevel {
		e.notify(ctx, user.Email, TemplateNewSignIn, user.DefaultAccountID, signInContent(assessment))
	}
	if user.TwoFactorEnabled {
		return e.twoFactorChallenge(user, ProviderApp, methodMagic, assessment.Level)
	}
	res, err := e.authenticate(ctx, user, nil, ProviderApp, assessment.Level)
	e.metrics.signIn(methodMagic, outcome(err))
	return res, err
}

// SignInWithProvider verifies an OIDC ID token from provider. An unknown
// identity is matched by email and linked, or signed up with a new account.
func (e *Engine) SignInWithProvider(ctx context.Context, provider, rawIDToken, ip, userAgent string) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.social == nil {
		return nil, ErrSocialUnavailable
	}
	ip, userAgent = clientMeta(ctx, ip, userAgent)
	id, err := e.social.Verify(ctx, provider, rawIDToken)
	if err != nil {
		e.metrics.signIn(methodSocial, OutcomeInvalid)
		if errors.Is(err, social.ErrUnknownProvider) {
			return nil, err
		}
		return nil, authError(CodeInvalidCredentials)
	}

	user, err := e.socialUser(ctx, id)
	if err != nil {
		return nil, err
	}
	assessment, err := e.recordLogin(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return e.twoFactorChallenge(user, id.Provider, methodSocial, assessment.Level)
	}
	res, err := e.authenticate(ctx, user, nil, id.Provider, assessment.Level)
	e.metrics.signIn(methodSocial, outcome(err))
	return res, err
}

func (e *Engine) socialUser(ctx context.Context, id *social.Identity) (*store.User, error) {
	user, err := e.stores.GetUserBySocial(ctx, id.Provider, id.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, nil)
	}

	email := normalizeEmail(id.Email)
	user, err = e.stores.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if err := e.stores.UpdateUser(ctx, user.ID, store.UserUpdate{SocialProvider: id.Provider, SocialID: id.Subject}); err != nil {
			return nil, storeErr(err, ErrUserNotFound)
		}
		return user, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeErr(err, nil)
	}

	created, _, err := e.createOwner(ctx, store.User{
		Email:     email,
		Name:      id.Name,
		Verified:  true,
		SocialIDs: map[string]string{id.Provider: id.Subject},
	})
	return created, err
}

// SwitchAccount issues a session for another account the user belongs to.
func (e *Engine) SwitchAccount(ctx context.Context, claims *Claims, accountID string) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, authError(CodeInvalid)
	}
	user, err := e.getUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res, err := e.authenticate(ctx, user, account, claims.Provider, 0)
	e.metrics.signIn(methodSwitch, outcome(err))
	return res, err
}

// authenticate finishes every sign-in path: it issues and stores exactly one
// session token and refreshes the user's activity flags. A nil account
// means the user's default account.
func (e *Engine) authenticate(ctx context.Context, user *store.User, account *store.Account, provider string, level int) (*SignInResult, error) {
	var err error
	if account == nil {
		if account, err = e.getAccount(ctx, user.DefaultAccountID); err != nil {
			return nil, err
		}
	}
	if !account.Active {
		return nil, authError(CodeInactive)
	}
	member, err := e.stores.GetMember(ctx, account.ID, user.ID)
	if err != nil {
		return nil, storeErr(err, ErrMemberNotFound)
	}

	status, err := e.subscriptionStatus(ctx, account)
	if err != nil {
		e.log.Warn().Err(err).Str("account_id", account.ID).Msg("subscription status unavailable at sign-in")
	}
	accounts, err := e.accountSummaries(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	viaSocial := provider != ProviderApp
	token, err := e.IssueToken(ctx, Claims{
		AccountID:  account.ID,
		UserID:     user.ID,
		Permission: member.Permission,
		Provider:   provider,
		Unverified: !user.Verified && !viaSocial,
	}, 0)
	if err != nil {
		return nil, err
	}

	upd := store.UserUpdate{LastActive: timePtr(e.now().UTC()), Disabled: boolPtr(false)}
	if viaSocial {
		upd.Verified = boolPtr(true)
	}
	if err := e.stores.UpdateUser(ctx, user.ID, upd); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("user activity not updated")
	}

	return &SignInResult{
		Token:              token,
		AccountID:          account.ID,
		UserID:             user.ID,
		Name:               user.Name,
		Permission:         member.Permission,
		Plan:               account.Plan,
		SubscriptionStatus: status,
		Accounts:           accounts,
		Verified:           user.Verified || viaSocial,
		HasPassword:        user.HasPassword(),
		RiskLevel:          level,
	}, nil
}

func (e *Engine) accountSummaries(ctx context.Context, userID string) ([]AccountSummary, error) {
	ms, err := e.stores.ListMemberships(ctx, userID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	out := make([]AccountSummary, 0, len(ms))
	for _, m := range ms {
		a, err := e.stores.GetAccount(ctx, m.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, storeErr(err, nil)
		}
		out = append(out, AccountSummary{ID: a.ID, Name: a.Name, Permission: m.Permission})
	}
	return out, nil
}

func (e *Engine) parseChallenge(token string, purpose jwt.Purpose) (*jwt.ChallengeClaims, error) {
	c, err := e.jwt.ParseChallenge(token, purpose)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, authError(CodeExpired)
		}
		return nil, authError(CodeInvalid)
	}
	return c, nil
}

func outcome(err error) string {
	var ae *AuthError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &ae) && ae.Code == CodeInactive:
		return OutcomeInactive
	default:
		return OutcomeInvalid
	}
}
