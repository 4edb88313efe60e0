package permission

import "testing"

func TestIncludesFollowsHierarchy(t *testing.T) {
	if !Master.Includes(Owner) || !Owner.Includes(Admin) || !Admin.Includes(User) {
		t.Fatal("higher levels must include lower ones")
	}
	if User.Includes(Admin) {
		t.Fatal("user must not include admin")
	}
	if Level("root").Includes(User) {
		t.Fatal("unknown level must include nothing")
	}
}

func TestParse(t *testing.T) {
	l, err := Parse(" Admin ")
	if err != nil || l != Admin {
		t.Fatalf("Parse: got %q, %v", l, err)
	}
	if _, err := Parse("superuser"); err != ErrUnknownLevel {
		t.Fatalf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestCanChange(t *testing.T) {
	cases := []struct {
		name                      string
		actor, current, requested Level
		allowed                   bool
		reason                    Reason
	}{
		{"admin promotes user", Admin, User, Admin, true, ReasonNone},
		{"owner demotes admin", Owner, Admin, User, true, ReasonNone},
		{"unchanged is allowed", User, User, User, true, ReasonNone},
		{"grant owner", Owner, Admin, Owner, false, ReasonEscalation},
		{"grant master", Master, User, Master, false, ReasonEscalation},
		{"owner self demotion", Owner, Owner, Admin, false, ReasonOwnerSelf},
		{"admin demotes owner", Admin, Owner, User, false, ReasonOwnerProtected},
		{"master downgraded", Master, Master, Admin, false, ReasonMasterLocked},
		{"admin demotes admin", Admin, Admin, User, false, ReasonAdminPeer},
		{"user promotes user", User, User, Admin, false, ReasonInsufficient},
		{"unknown level", Admin, User, Level("root"), false, ReasonUnknownLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := CanChange(tc.actor, tc.current, tc.requested)
			if d.Allowed != tc.allowed || d.Reason != tc.reason {
				t.Fatalf("CanChange(%s,%s,%s) = %+v", tc.actor, tc.current, tc.requested, d)
			}
		})
	}
}
