package goTenant

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/password"
	"github.com/MrEthical07/goTenant/store"
)

// ChangePassword sets a new password after checking the old one. A user
// who signed up through a social provider has no old password and may set
// one directly. Every session of the user is revoked.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasPassword() {
		ok, err := e.passwords.Verify(oldPassword, user.PasswordHash)
		if err != nil || !ok {
			return authError(CodeInvalidCredentials)
		}
	}
	return e.setPassword(ctx, user, newPassword)
}

// RequestPasswordReset mails a reset link when email belongs to a user. It
// succeeds either way.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := e.throttle(ctx, "reset", email, clientIPFromContext(ctx)); err != nil {
		return err
	}
	user, err := e.stores.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Msg("password reset lookup failed")
		}
		return nil
	}
	token, err := e.jwt.CreateChallenge(jwt.PurposeReset, jwt.ChallengeClaims{
		UserID: user.ID,
		Email:  user.Email,
	}, e.config.Token.ResetTTL)
	if err != nil {
		return err
	}
	e.notify(ctx, user.Email, TemplatePasswordReset, user.DefaultAccountID, map[string]string{
		"token": token,
		"link":  link(e.config.Notification.ResetURL, token),
	})
	return nil
}

// ResetPassword consumes a reset token. The token is bound to the email at
// issue time, so a changed email invalidates outstanding links.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	c, err := e.parseChallenge(token, jwt.PurposeReset)
	if err != nil {
		return err
	}
	user, err := e.stores.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authError(CodeInvalid)
		}
		return storeErr(err, nil)
	}
	if user.Email != c.Email {
		return authError(CodeInvalid)
	}
	if err := e.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	if err := e.lockout.Reset(ctx, user.Email); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("lockout reset failed")
	}
	return nil
}

func (e *Engine) setPassword(ctx context.Context, user *store.User, newPassword string) error {
	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrPasswordTooShort
		}
		return err
	}
	if err := e.stores.UpdateUser(ctx, user.ID, store.UserUpdate{PasswordHash: &hash}); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	if _, err := e.Revoke(ctx, TokenSelector{UserID: user.ID}); err != nil {
		return err
	}
	e.notify(ctx, user.Email, TemplatePasswordUpdated, user.DefaultAccountID, nil)
	e.log.Info().Str("user_id", user.ID).Msg("password changed")
	return nil
}
