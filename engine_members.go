package goTenant

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
)

// AddMember attaches an existing user, found by email, to the actor's
// account. Only user and admin levels can be granted this way.
func (e *Engine) AddMember(ctx context.Context, actor *Claims, email string, level permission.Level) (*store.Membership, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, authError(CodeInvalid)
	}
	if !actor.Permission.Includes(permission.Admin) {
		return nil, &PermissionError{Reason: permission.ReasonInsufficient}
	}
	if !level.Valid() {
		return nil, &PermissionError{Reason: permission.ReasonUnknownLevel}
	}
	if !level.Assignable() {
		return nil, &PermissionError{Reason: permission.ReasonEscalation}
	}

	user, err := e.stores.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	if _, err := e.stores.GetMember(ctx, actor.AccountID, user.ID); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, nil)
	}

	m := store.Membership{UserID: user.ID, AccountID: actor.AccountID, Permission: level}
	if err := e.stores.AddMember(ctx, m); err != nil {
		return nil, storeErr(err, nil)
	}
	if err := e.saveDefaultNotifications(ctx, user.ID, actor.AccountID); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("default notifications not saved")
	}
	e.log.Info().
		Str("account_id", actor.AccountID).
		Str("user_id", user.ID).
		Str("permission", level.String()).
		Msg("member added")
	e.syncSeats(ctx, actor.AccountID)
	return &m, nil
}

// RemoveMember detaches userID from the actor's account. Members may always
// leave; removing someone else needs admin, and neither an owner nor a
// fellow admin can be removed by an admin.
func (e *Engine) RemoveMember(ctx context.Context, actor *Claims, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if actor == nil {
		return authError(CodeInvalid)
	}
	target, err := e.stores.GetMember(ctx, actor.AccountID, userID)
	if err != nil {
		return storeErr(err, ErrMemberNotFound)
	}
	if reason := canRemove(actor, target); reason != permission.ReasonNone {
		return &PermissionError{Reason: reason}
	}

	if err := e.detachMember(ctx, actor.AccountID, userID); err != nil {
		return err
	}
	e.log.Info().Str("account_id", actor.AccountID).Str("user_id", userID).Msg("member removed")
	e.syncSeats(ctx, actor.AccountID)
	return nil
}

func canRemove(actor *Claims, target *store.Membership) permission.Reason {
	switch {
	case target.Permission == permission.Owner:
		return permission.ReasonOwnerProtected
	case target.Permission == permission.Master:
		return permission.ReasonMasterLocked
	case target.UserID == actor.UserID:
		return permission.ReasonNone
	case !actor.Permission.Includes(permission.Admin):
		return permission.ReasonInsufficient
	case actor.Permission == permission.Admin && target.Permission == permission.Admin:
		return permission.ReasonAdminPeer
	}
	return permission.ReasonNone
}

// ChangePermission moves a member to level. The decision is
// permission.CanChange; the member's sessions are revoked so the new level
// takes effect at their next sign-in.
func (e *Engine) ChangePermission(ctx context.Context, actor *Claims, userID string, level permission.Level) error {
	if err := e.ready(); err != nil {
		return err
	}
	if actor == nil {
		return authError(CodeInvalid)
	}
	target, err := e.stores.GetMember(ctx, actor.AccountID, userID)
	if err != nil {
		return storeErr(err, ErrMemberNotFound)
	}
	d := permission.CanChange(actor.Permission, target.Permission, level)
	if d.Denied() {
		e.log.Warn().
			Str("account_id", actor.AccountID).
			Str("actor_id", actor.UserID).
			Str("user_id", userID).
			Str("reason", string(d.Reason)).
			Msg("permission change refused")
		return &PermissionError{Reason: d.Reason}
	}
	if target.Permission == level {
		return nil
	}

	if err := e.stores.UpdatePermission(ctx, actor.AccountID, userID, level); err != nil {
		return storeErr(err, ErrMemberNotFound)
	}
	if _, err := e.Revoke(ctx, TokenSelector{UserID: userID}); err != nil {
		return err
	}
	e.log.Info().
		Str("account_id", actor.AccountID).
		Str("user_id", userID).
		Str("from", target.Permission.String()).
		Str("permission", level.String()).
		Msg("permission changed")
	return nil
}

// ListMembers returns the account's memberships.
func (e *Engine) ListMembers(ctx context.Context, accountID string) ([]store.Membership, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	members, err := e.stores.ListMembers(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return members, nil
}
