package permission

// Reason names why a permission change was refused.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonUnknownLevel   Reason = "unknown_level"
	ReasonEscalation     Reason = "escalation"
	ReasonOwnerSelf      Reason = "owner_self_change"
	ReasonMasterLocked   Reason = "master_locked"
	ReasonAdminPeer      Reason = "admin_peer_downgrade"
	ReasonInsufficient   Reason = "insufficient_permission"
	ReasonOwnerProtected Reason = "owner_protected"
)

// Decision is the outcome of CanChange.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision           { return Decision{Allowed: true} }
func deny(r Reason) Decision    { return Decision{Reason: r} }
func (d Decision) Denied() bool { return !d.Allowed }

// CanChange decides whether actor may move a member from current to
// requested. An unchanged level is always allowed.
func CanChange(actor, current, requested Level) Decision {
	if !actor.Valid() || !current.Valid() || !requested.Valid() {
		return deny(ReasonUnknownLevel)
	}
	if current == requested {
		return allow()
	}
	switch {
	case current == Owner && actor == Owner:
		return deny(ReasonOwnerSelf)
	case current == Owner:
		return deny(ReasonOwnerProtected)
	case current == Master:
		return deny(ReasonMasterLocked)
	case !requested.Assignable():
		return deny(ReasonEscalation)
	case actor == Admin && current == Admin:
		return deny(ReasonAdminPeer)
	case !actor.Includes(Admin):
		return deny(ReasonInsufficient)
	}
	return allow()
}
