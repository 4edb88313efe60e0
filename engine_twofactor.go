package goTenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrEthical07/goTenant/internal"
	"github.com/MrEthical07/goTenant/internal/limiters"
	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/store"
)

// SetupTwoFactor issues a TOTP secret. 2FA stays off until EnableTwoFactor
// confirms a first code; calling Setup again replaces the pending secret.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, &TwoFactorError{Code: CodeAlreadyEnabled}
	}
	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.stores.UpdateUser(ctx, userID, store.UserUpdate{TwoFactorSecret: &secret}); err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	return &TwoFactorEnrollment{
		Secret:       secret,
		ProvisionURI: e.totp.ProvisionURI(secret, user.Email),
	}, nil
}

// EnableTwoFactor confirms the first code and turns 2FA on. The returned
// backup code is shown once; only its hash is kept.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.TwoFactorEnabled {
		return "", &TwoFactorError{Code: CodeAlreadyEnabled}
	}
	if user.TwoFactorSecret == "" {
		return "", &TwoFactorError{Code: CodeNotEnabled}
	}
	if err := e.checkTOTP(ctx, user, stripSpaces(code)); err != nil {
		return "", err
	}

	backup, hash, err := newBackupCode(user.ID)
	if err != nil {
		return "", err
	}
	if err := e.stores.UpdateUser(ctx, userID, store.UserUpdate{
		TwoFactorEnabled: boolPtr(true),
		BackupCodeHash:   &hash,
	}); err != nil {
		return "", storeErr(err, ErrUserNotFound)
	}
	e.notify(ctx, user.Email, TemplateTwoFactorEnabled, user.DefaultAccountID, nil)
	return backup, nil
}

// RegenerateBackupCode replaces the backup code after a valid TOTP code.
func (e *Engine) RegenerateBackupCode(ctx context.Context, userID, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.TwoFactorEnabled {
		return "", &TwoFactorError{Code: CodeNotEnabled}
	}
	if err := e.checkTOTP(ctx, user, stripSpaces(code)); err != nil {
		return "", err
	}
	backup, hash, err := newBackupCode(user.ID)
	if err != nil {
		return "", err
	}
	if err := e.stores.UpdateUser(ctx, userID, store.UserUpdate{BackupCodeHash: &hash}); err != nil {
		return "", storeErr(err, ErrUserNotFound)
	}
	return backup, nil
}

// DisableTwoFactor turns 2FA off and forgets the secret and backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	empty := ""
	err := e.stores.UpdateUser(ctx, userID, store.UserUpdate{
		TwoFactorEnabled: boolPtr(false),
		TwoFactorSecret:  &empty,
		BackupCodeHash:   &empty,
	})
	return storeErr(err, ErrUserNotFound)
}

// VerifyTwoFactorSignIn completes a sign-in that returned a challenge. Codes
// of up to six characters are checked as TOTP, longer ones as the backup
// code; a backup code works once.
func (e *Engine) VerifyTwoFactorSignIn(ctx context.Context, challengeToken, code, ip, userAgent string) (*SignInResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	c, err := e.parseChallenge(challengeToken, jwt.PurposeTwoFactor)
	if err != nil {
		return nil, err
	}
	user, err := e.stores.GetUserByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, authError(CodeInvalid)
		}
		return nil, storeErr(err, nil)
	}
	if !user.TwoFactorEnabled {
		return nil, &TwoFactorError{Code: CodeNotEnabled}
	}

	code = stripSpaces(code)
	if len(code) <= 6 {
		err = e.checkTOTP(ctx, user, code)
	} else {
		err = e.checkBackupCode(ctx, user, code)
	}
	if err != nil {
		e.metrics.signIn(methodTwoFA, OutcomeInvalid)
		return nil, err
	}

	provider := c.Provider
	if provider == "" {
		provider = ProviderApp
	}
	e.log.Debug().Str("user_id", user.ID).Str("ip", ip).Str("user_agent", userAgent).Msg("second factor accepted")
	res, err := e.authenticate(ctx, user, nil, provider, 0)
	e.metrics.signIn(methodTwoFA, outcome(err))
	return res, err
}

// checkTOTP verifies code against the user's secret, enforcing the attempt
// limit and rejecting a step that was already used.
func (e *Engine) checkTOTP(ctx context.Context, user *store.User, code string) error {
	if err := e.twoFactorGate(ctx, user.ID); err != nil {
		return err
	}
	ok, counter, err := e.totp.VerifyCode(user.TwoFactorSecret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return e.twoFactorFailed(ctx, user.ID, "totp", CodeInvalidCode)
	}
	if err := e.twoFactor.MarkUsed(ctx, user.ID, counter, e.totp.replayWindow()); err != nil {
		if errors.Is(err, limiters.ErrCodeReused) {
			return e.twoFactorFailed(ctx, user.ID, "totp_replay", CodeInvalidCode)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.twoFactor.Reset(ctx, user.ID)
}

func (e *Engine) checkBackupCode(ctx context.Context, user *store.User, code string) error {
	if err := e.twoFactorGate(ctx, user.ID); err != nil {
		return err
	}
	hash := internal.BackupCodeHash(user.ID, internal.CanonicalizeBackupCode(code))
	ok, err := e.stores.ConsumeBackupCode(ctx, user.ID, hash)
	if err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	if !ok {
		return e.twoFactorFailed(ctx, user.ID, "backup", CodeInvalidBackupCode)
	}
	e.log.Info().Str("user_id", user.ID).Msg("backup code used")
	return e.twoFactor.Reset(ctx, user.ID)
}

func (e *Engine) twoFactorGate(ctx context.Context, userID string) error {
	if err := e.twoFactor.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrTwoFactorRateLimited) {
			return &TwoFactorError{Code: CodeTooManyAttempts}
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) twoFactorFailed(ctx context.Context, userID, kind, code string) error {
	e.metrics.twoFactorFailure(kind)
	if err := e.twoFactor.RecordFailure(ctx, userID); err != nil && !errors.Is(err, limiters.ErrTwoFactorRateLimited) {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("two-factor failure not recorded")
	}
	return &TwoFactorError{Code: code}
}

func newBackupCode(userID string) (display, hash string, err error) {
	raw, err := internal.NewBackupCode()
	if err != nil {
		return "", "", err
	}
	return internal.FormatBackupCode(raw), internal.BackupCodeHash(userID, raw), nil
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
