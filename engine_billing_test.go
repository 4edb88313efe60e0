package goTenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
)

func (env *testEnv) account(t *testing.T, id string) *store.Account {
	t.Helper()
	a, err := env.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a
}

// subscribe puts a fresh owner's account on plan with a card.
func (env *testEnv) subscribe(t *testing.T, email, plan string) *SignInResult {
	t.Helper()
	res := env.signup(t, email)
	if _, err := env.engine.CreatePlan(context.Background(), res.AccountID, PlanRequest{Plan: plan, PaymentToken: "tok_4242"}); err != nil {
		t.Fatalf("CreatePlan(%s): %v", plan, err)
	}
	return res
}

func TestCreatePlanValidatesRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "plans@example.com")

	cases := []struct {
		req  PlanRequest
		want error
	}{
		{PlanRequest{}, ErrPlanRequired},
		{PlanRequest{Plan: "enterprise"}, ErrPlanNotFound},
		{PlanRequest{Plan: "starter"}, ErrPaymentTokenRequired},
	}
	for _, tc := range cases {
		if _, err := env.engine.CreatePlan(ctx, res.AccountID, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("CreatePlan(%+v) = %v, want %v", tc.req, err, tc.want)
		}
	}
	if n := env.gateway.TotalCalls(); n != 0 {
		t.Fatalf("refused requests reached the gateway %d times", n)
	}
}

func TestCreatePlanFree(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "free@example.com")

	if s, _ := env.engine.SubscriptionStatus(ctx, res.AccountID); s != "" {
		t.Fatalf("status before any plan = %q", s)
	}
	out, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if out.Plan != billing.FreePlan || out.Status != billing.StatusActive || out.NoOp {
		t.Fatalf("unexpected result %+v", out)
	}
	again, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan})
	if err != nil || !again.NoOp {
		t.Fatalf("second free CreatePlan = %+v, %v", again, err)
	}
	if n := env.gateway.TotalCalls(); n != 0 {
		t.Fatalf("free plan reached the gateway %d times", n)
	}
	if s, _ := env.engine.SubscriptionStatus(ctx, res.AccountID); s != billing.StatusActive {
		t.Fatalf("free status = %q", s)
	}
}

func TestCreatePlanPaid(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "paid@example.com", "starter")

	a := env.account(t, res.AccountID)
	if a.Plan != "starter" || a.StripeCustomerID == "" || a.StripeSubscriptionID == "" {
		t.Fatalf("account not updated: %+v", a)
	}
	sub, ok := env.gateway.Subscription(a.StripeSubscriptionID)
	if !ok || sub.PriceID != "price_starter" || sub.Quantity != 1 {
		t.Fatalf("gateway subscription = %+v", sub)
	}
	n := env.sink.waitFor(t, TemplateNewPlan)
	if n.To != "paid@example.com" || n.Content["plan"] != "Starter" {
		t.Fatalf("notification = %+v", n)
	}

	if _, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "pro", PaymentToken: "tok_1"}); !errors.Is(err, ErrSubscriptionExists) {
		t.Fatalf("second CreatePlan: %v", err)
	}
	if s, _ := env.engine.SubscriptionStatus(ctx, res.AccountID); s != billing.StatusActive {
		t.Fatalf("status = %q", s)
	}
	card, err := env.engine.Card(ctx, res.AccountID)
	if err != nil || card == nil || card.Last4 != "4242" {
		t.Fatalf("Card = %+v, %v", card, err)
	}
}

func TestCreatePlanTrialBlocksUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "trial@example.com")

	out, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "pro", PaymentToken: "tok_1"})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if out.Status != billing.StatusTrialing {
		t.Fatalf("status = %q, want trialing", out.Status)
	}
	if _, err := env.engine.UpdatePlan(ctx, res.AccountID, "starter"); !errors.Is(err, ErrSubscriptionTrialing) {
		t.Fatalf("UpdatePlan during trial: %v", err)
	}
}

func TestCreatePlanRequiresPaymentAction(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "sca@example.com")
	env.gateway.RequireAction = true

	out, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "starter", PaymentToken: "tok_3ds"})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if !out.RequiresPaymentAction || out.Action == nil || out.Action.ClientSecret == "" {
		t.Fatalf("expected a payment action, got %+v", out)
	}
	a := env.account(t, res.AccountID)
	if a.Plan != "" || a.StripeSubscriptionID != "" {
		t.Fatalf("pending plan was stored: %+v", a)
	}
	if a.StripeCustomerID != out.Action.CustomerID {
		t.Fatal("customer id should be kept for the resubmission")
	}

	// resubmitting before the client confirmed still needs the action
	_, err = env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "starter", Confirmed: out.Action})
	var be *BillingError
	if !errors.As(err, &be) || be.Code != CodePaymentIncomplete || be.Action == nil {
		t.Fatalf("expected incomplete payment with action, got %v", err)
	}

	env.gateway.Confirm(out.Action.SubscriptionID)
	done, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "starter", Confirmed: out.Action})
	if err != nil {
		t.Fatalf("confirmed CreatePlan: %v", err)
	}
	if done.Status != billing.StatusActive {
		t.Fatalf("status = %q", done.Status)
	}
	a = env.account(t, res.AccountID)
	if a.Plan != "starter" || a.StripeSubscriptionID != out.Action.SubscriptionID {
		t.Fatalf("confirmed plan not stored: %+v", a)
	}
	if n := env.gateway.Calls("CreateSubscription"); n != 1 {
		t.Fatalf("CreateSubscription called %d times", n)
	}
}

func TestUpdatePlanSameIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.subscribe(t, "same@example.com", "starter")
	before := env.gateway.TotalCalls()

	out, err := env.engine.UpdatePlan(context.Background(), res.AccountID, "starter")
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if !out.NoOp {
		t.Fatalf("expected NoOp, got %+v", out)
	}
	if env.gateway.TotalCalls() != before {
		t.Fatal("a no-op update reached the gateway")
	}
}

func TestUpdatePlanBetweenPaidPlans(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "switch@example.com", "starter")

	out, err := env.engine.UpdatePlan(ctx, res.AccountID, "pro")
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if out.Plan != "pro" || out.Status != billing.StatusActive {
		t.Fatalf("unexpected result %+v", out)
	}
	a := env.account(t, res.AccountID)
	sub, _ := env.gateway.Subscription(a.StripeSubscriptionID)
	if a.Plan != "pro" || sub.PriceID != "price_pro" {
		t.Fatalf("account %q, price %q", a.Plan, sub.PriceID)
	}
	env.sink.waitFor(t, TemplatePlanUpdated)
}

func TestUpdatePlanWithoutSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "nosub@example.com")

	if _, err := env.engine.UpdatePlan(ctx, res.AccountID, "starter"); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("paid update without subscription: %v", err)
	}
	if _, err := env.engine.UpdatePlan(ctx, res.AccountID, billing.FreePlan); err != nil {
		t.Fatalf("free update: %v", err)
	}
	if a := env.account(t, res.AccountID); a.Plan != billing.FreePlan {
		t.Fatalf("plan = %q", a.Plan)
	}
}

func TestDowngradeWaitsForWebhook(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "downgrade@example.com", "starter")

	out, err := env.engine.UpdatePlan(ctx, res.AccountID, billing.FreePlan)
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if out.Plan != "starter" || out.Status != billing.StatusCanceling {
		t.Fatalf("unexpected result %+v", out)
	}
	a := env.account(t, res.AccountID)
	if a.Plan != "starter" {
		t.Fatal("plan changed before the subscription ended")
	}
	sub, _ := env.gateway.Subscription(a.StripeSubscriptionID)
	if !sub.CancelAtPeriodEnd {
		t.Fatal("subscription not set to cancel at period end")
	}
	if s, _ := env.engine.SubscriptionStatus(ctx, res.AccountID); s != billing.StatusCanceling {
		t.Fatalf("status = %q", s)
	}

	payload := []byte(billing.EventSubscriptionDeleted + "|" + a.StripeCustomerID + "|" + a.StripeSubscriptionID)
	if err := env.engine.HandleBillingEvent(ctx, payload, "forged"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("forged webhook: %v", err)
	}
	if err := env.engine.HandleBillingEvent(ctx, payload, "valid"); err != nil {
		t.Fatalf("HandleBillingEvent: %v", err)
	}
	a = env.account(t, res.AccountID)
	if a.Plan != billing.FreePlan || a.StripeSubscriptionID != "" {
		t.Fatalf("account not downgraded: %+v", a)
	}
	if a.StripeCustomerID == "" {
		t.Fatal("customer should survive the downgrade")
	}
}

func TestHandleBillingEventIgnoresUnrelated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "webhook@example.com", "starter")
	a := env.account(t, res.AccountID)

	for _, payload := range []string{
		"invoice.paid|" + a.StripeCustomerID + "|" + a.StripeSubscriptionID,
		billing.EventSubscriptionDeleted + "|cus_unknown|sub_unknown",
		billing.EventSubscriptionDeleted + "|" + a.StripeCustomerID + "|sub_old",
	} {
		if err := env.engine.HandleBillingEvent(ctx, []byte(payload), "valid"); err != nil {
			t.Fatalf("HandleBillingEvent(%s): %v", payload, err)
		}
	}
	if got := env.account(t, res.AccountID); got.Plan != "starter" {
		t.Fatalf("unrelated events changed the plan to %q", got.Plan)
	}
}

func TestPlanChangeInProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.signup(t, "locked@example.com")
	if err := env.mr.Set("gt:planlock:"+res.AccountID, "other"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := env.engine.CreatePlan(context.Background(), res.AccountID, PlanRequest{Plan: "starter", PaymentToken: "tok_1"})
	if !errors.Is(err, ErrPlanChangeInProgress) || StatusOf(err) != 409 {
		t.Fatalf("expected plan change conflict, got %v (%d)", err, StatusOf(err))
	}
	if env.gateway.TotalCalls() != 0 {
		t.Fatal("locked change reached the gateway")
	}
}

func TestDuplicatePlanRequestWhileLocked(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "dup@example.com", "starter")
	before := env.gateway.TotalCalls()

	// current plan with some other change holding the lock
	if err := env.mr.Set("gt:planlock:"+res.AccountID, "pro|held"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	out, err := env.engine.UpdatePlan(ctx, res.AccountID, "starter")
	if err != nil || !out.NoOp || out.Plan != "starter" {
		t.Fatalf("UpdatePlan(current) = %+v, %v", out, err)
	}

	// same target as the change in flight
	out, err = env.engine.UpdatePlan(ctx, res.AccountID, "pro")
	if err != nil || !out.NoOp || out.Plan != "pro" {
		t.Fatalf("UpdatePlan(in flight) = %+v, %v", out, err)
	}
	if env.gateway.TotalCalls() != before {
		t.Fatal("a duplicate request reached the gateway")
	}

	_, err = env.engine.UpdatePlan(ctx, res.AccountID, "metered")
	if !errors.Is(err, ErrPlanChangeInProgress) || StatusOf(err) != 409 {
		t.Fatalf("conflicting change: %v (%d)", err, StatusOf(err))
	}
	if v, _ := env.mr.Get("gt:planlock:" + res.AccountID); v != "pro|held" {
		t.Fatalf("lock held by another change was touched: %q", v)
	}
}

func TestPlanLockIsReleased(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.subscribe(t, "release@example.com", "starter")
	if env.mr.Exists("gt:planlock:" + res.AccountID) {
		t.Fatal("plan lock left behind")
	}
}

func TestUpgradePlanAfterCancellation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "upgrade@example.com", "starter")

	if _, err := env.engine.UpgradePlan(ctx, res.AccountID, PlanRequest{Plan: "pro"}); !errors.Is(err, ErrSubscriptionActive) {
		t.Fatalf("upgrade over an active subscription: %v", err)
	}
	if _, err := env.engine.UpgradePlan(ctx, res.AccountID, PlanRequest{Plan: billing.FreePlan}); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("upgrade to free: %v", err)
	}

	a := env.account(t, res.AccountID)
	if err := env.gateway.CancelSubscription(ctx, a.StripeSubscriptionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	out, err := env.engine.UpgradePlan(ctx, res.AccountID, PlanRequest{Plan: "pro"})
	if err != nil {
		t.Fatalf("UpgradePlan: %v", err)
	}
	// a resubscription gets no second trial
	if out.Plan != "pro" || out.Status != billing.StatusActive {
		t.Fatalf("unexpected result %+v", out)
	}
	after := env.account(t, res.AccountID)
	if after.StripeSubscriptionID == a.StripeSubscriptionID || after.StripeCustomerID != a.StripeCustomerID {
		t.Fatalf("upgrade should reuse the customer with a new subscription: %+v", after)
	}
}

func TestUpdateCardAndInvoices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "card@example.com")

	if card, err := env.engine.Card(ctx, res.AccountID); err != nil || card != nil {
		t.Fatalf("card without customer = %+v, %v", card, err)
	}
	if err := env.engine.UpdateCard(ctx, res.AccountID, "tok_9999"); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("UpdateCard without customer: %v", err)
	}

	if _, err := env.engine.CreatePlan(ctx, res.AccountID, PlanRequest{Plan: "starter", PaymentToken: "tok_1111"}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if err := env.engine.UpdateCard(ctx, res.AccountID, "tok_9999"); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	card, err := env.engine.Card(ctx, res.AccountID)
	if err != nil || card.Last4 != "9999" {
		t.Fatalf("Card = %+v, %v", card, err)
	}
	env.sink.waitFor(t, TemplateCardUpdated)

	a := env.account(t, res.AccountID)
	env.gateway.AddInvoice(a.StripeCustomerID, billing.Invoice{Number: "INV-1", Date: time.Now(), Status: "paid", Total: 900, Currency: "usd"})
	invoices, err := env.engine.Invoices(ctx, res.AccountID)
	if err != nil || len(invoices) != 1 || invoices[0].Number != "INV-1" {
		t.Fatalf("Invoices = %+v, %v", invoices, err)
	}
}

func TestGatewayFailureIsReported(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.signup(t, "down@example.com")
	env.gateway.Err = errors.New("connection refused")

	_, err := env.engine.CreatePlan(context.Background(), res.AccountID, PlanRequest{Plan: "starter", PaymentToken: "tok_1"})
	if !errors.Is(err, ErrBillingUnavailable) || StatusOf(err) != 502 {
		t.Fatalf("expected gateway error, got %v (%d)", err, StatusOf(err))
	}
}

func TestSeatBillingFollowsMembers(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Billing.SeatBilling = true })
	ctx := context.Background()
	owner := env.subscribe(t, "seats@example.com", "starter")
	env.signup(t, "colleague@example.com")

	subID := env.account(t, owner.AccountID).StripeSubscriptionID
	actor := env.claims(t, owner)
	m, err := env.engine.AddMember(ctx, actor, "colleague@example.com", permission.User)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if sub, _ := env.gateway.Subscription(subID); sub.Quantity != 2 {
		t.Fatalf("seats after add = %d, want 2", sub.Quantity)
	}

	if err := env.engine.RemoveMember(ctx, actor, m.UserID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if sub, _ := env.gateway.Subscription(subID); sub.Quantity != 1 {
		t.Fatalf("seats after remove = %d, want 1", sub.Quantity)
	}
}

func TestCloseAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	owner := env.subscribe(t, "closer@example.com", "starter")
	other := env.signup(t, "stays@example.com")

	actor := env.claims(t, owner)
	if _, err := env.engine.AddMember(ctx, actor, "stays@example.com", permission.Admin); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	member := &Claims{AccountID: owner.AccountID, UserID: other.UserID, Permission: permission.Admin}
	if err := env.engine.CloseAccount(ctx, member); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin closed the account: %v", err)
	}

	subID := env.account(t, owner.AccountID).StripeSubscriptionID
	if err := env.engine.CloseAccount(ctx, actor); err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}

	if sub, _ := env.gateway.Subscription(subID); sub.Status != billing.StatusCanceled {
		t.Fatalf("subscription status = %q", sub.Status)
	}
	if _, err := env.store.GetAccount(ctx, owner.AccountID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("account still present: %v", err)
	}
	if _, err := env.store.GetUser(ctx, owner.UserID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("owner with no other account should be deleted: %v", err)
	}
	u, err := env.store.GetUser(ctx, other.UserID)
	if err != nil {
		t.Fatalf("member with another account was deleted: %v", err)
	}
	if u.DefaultAccountID != other.AccountID {
		t.Fatalf("default account = %q", u.DefaultAccountID)
	}
	if _, err := env.engine.AuthorizeUnverified(ctx, owner.Token, permission.User); err == nil {
		t.Fatal("owner session survived account closure")
	}
	n := env.sink.waitFor(t, TemplateAccountClosed)
	if n.To != "closer@example.com" {
		t.Fatalf("closure notice sent to %q", n.To)
	}
}
