package goTenant

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
)

// SubscriptionStatus reports the account's billing state: "active" on the
// free plan, the gateway status otherwise, and "canceling" for an active
// subscription set to end at period end. An account that never chose a plan
// has an empty status.
func (e *Engine) SubscriptionStatus(ctx context.Context, accountID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return e.subscriptionStatus(ctx, account)
}

func (e *Engine) subscriptionStatus(ctx context.Context, account *store.Account) (string, error) {
	switch {
	case account.Plan == "":
		return "", nil
	case account.Plan == billing.FreePlan:
		return billing.StatusActive, nil
	case account.StripeSubscriptionID == "":
		return "", nil
	}
	sub, err := e.gateway.GetSubscription(ctx, account.StripeSubscriptionID)
	if err != nil {
		return "", gatewayError(err)
	}
	return effectiveStatus(sub), nil
}

// closeLockTarget marks the plan lock while an account is being closed.
const closeLockTarget = "-close"

// alreadyOnPlan returns a NoOp result, without touching the gateway or the
// plan lock, when the account is settled on plan.
func (e *Engine) alreadyOnPlan(ctx context.Context, accountID string, plan billing.Plan) (*PlanResult, error) {
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Plan != plan.ID {
		return nil, nil
	}
	if plan.Free() {
		return &PlanResult{Plan: plan.ID, Status: billing.StatusActive, NoOp: true}, nil
	}
	if account.StripeSubscriptionID == "" {
		return nil, nil
	}
	return &PlanResult{Plan: plan.ID, NoOp: true}, nil
}

// lockPlan takes the account's plan lock for a change to plan. When another
// request already holds it for the same plan, release is nil and the result
// is a NoOp; on any other failure release is nil and err is set.
func (e *Engine) lockPlan(ctx context.Context, accountID string, plan billing.Plan) (func(), *PlanResult, error) {
	release, err := e.planLock.acquire(ctx, accountID, plan.ID)
	if errors.Is(err, errSamePlanInFlight) {
		return nil, &PlanResult{Plan: plan.ID, NoOp: true}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return release, nil, nil
}

func effectiveStatus(sub *billing.Subscription) string {
	if sub.Status == billing.StatusActive && sub.CancelAtPeriodEnd {
		return billing.StatusCanceling
	}
	return sub.Status
}

// CreatePlan puts an account that has no subscription on its first plan.
// Paid plans need a payment token. When the gateway asks for customer
// authentication the result carries RequiresPaymentAction and nothing is
// stored; the caller resubmits with Confirmed once the client is done.
func (e *Engine) CreatePlan(ctx context.Context, accountID string, req PlanRequest) (*PlanResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.Plan == "" {
		return nil, billingError(CodePlanRequired)
	}
	plan, err := e.plan(req.Plan)
	if err != nil {
		return nil, err
	}
	if req.Confirmed == nil {
		if res, err := e.alreadyOnPlan(ctx, accountID, plan); res != nil || err != nil {
			return res, err
		}
	}
	release, res, err := e.lockPlan(ctx, accountID, plan)
	if release == nil {
		return res, err
	}
	defer release()

	res, err = e.createPlan(ctx, accountID, plan, req)
	e.metrics.planChange("create", err)
	return res, err
}

func (e *Engine) createPlan(ctx context.Context, accountID string, plan billing.Plan, req PlanRequest) (*PlanResult, error) {
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if req.Confirmed != nil {
		return e.confirmPlan(ctx, account, plan, req.Confirmed, TemplateNewPlan)
	}
	if account.StripeSubscriptionID != "" {
		return nil, billingError(CodeSubscriptionExists)
	}

	if plan.Free() {
		if account.Plan == plan.ID {
			return &PlanResult{Plan: plan.ID, Status: billing.StatusActive, NoOp: true}, nil
		}
		if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{Plan: strPtr(plan.ID)}); err != nil {
			return nil, storeErr(err, ErrAccountNotFound)
		}
		e.log.Info().Str("account_id", account.ID).Str("plan", plan.ID).Msg("plan selected")
		return &PlanResult{Plan: plan.ID, Status: billing.StatusActive}, nil
	}

	if req.PaymentToken == "" {
		return nil, billingError(CodePaymentTokenRequired)
	}
	customerID, err := e.ensureCustomer(ctx, account, req.PaymentToken)
	if err != nil {
		return nil, err
	}
	quantity, err := e.seatQuantity(ctx, account.ID, plan)
	if err != nil {
		return nil, err
	}
	sub, err := e.gateway.CreateSubscription(ctx, billing.SubscriptionParams{
		CustomerID:     customerID,
		PriceID:        plan.PriceID,
		Quantity:       quantity,
		TrialDays:      plan.TrialDays,
		Metered:        plan.Metered(),
		IdempotencyKey: "create:" + account.ID + ":" + plan.ID + ":" + customerID,
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if sub.RequiresAction() {
		return pendingPayment(plan, sub), nil
	}
	return e.activatePlan(ctx, account, plan, sub, TemplateNewPlan)
}

// UpgradePlan resubscribes an account whose subscription ended. It refuses
// while the current subscription is still active.
func (e *Engine) UpgradePlan(ctx context.Context, accountID string, req PlanRequest) (*PlanResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.Plan == "" {
		return nil, billingError(CodePlanRequired)
	}
	plan, err := e.plan(req.Plan)
	if err != nil {
		return nil, err
	}
	if plan.Free() {
		return nil, billingError(CodePaymentRequired)
	}
	release, res, err := e.lockPlan(ctx, accountID, plan)
	if release == nil {
		return res, err
	}
	defer release()

	res, err = e.upgradePlan(ctx, accountID, plan, req)
	e.metrics.planChange("upgrade", err)
	return res, err
}

func (e *Engine) upgradePlan(ctx context.Context, accountID string, plan billing.Plan, req PlanRequest) (*PlanResult, error) {
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if req.Confirmed != nil {
		return e.confirmPlan(ctx, account, plan, req.Confirmed, TemplatePlanUpdated)
	}
	if account.StripeSubscriptionID != "" {
		sub, err := e.gateway.GetSubscription(ctx, account.StripeSubscriptionID)
		switch {
		case err == nil && sub.Status == billing.StatusActive:
			return nil, billingError(CodeSubscriptionActive)
		case err != nil && !errors.Is(err, billing.ErrNotFound):
			return nil, gatewayError(err)
		}
	}

	if account.StripeCustomerID == "" && req.PaymentToken == "" {
		return nil, billingError(CodePaymentTokenRequired)
	}
	customerID, err := e.ensureCustomer(ctx, account, req.PaymentToken)
	if err != nil {
		return nil, err
	}
	quantity, err := e.seatQuantity(ctx, account.ID, plan)
	if err != nil {
		return nil, err
	}
	sub, err := e.gateway.CreateSubscription(ctx, billing.SubscriptionParams{
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		Quantity:   quantity,
		Metered:    plan.Metered(),
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if sub.RequiresAction() {
		return pendingPayment(plan, sub), nil
	}
	return e.activatePlan(ctx, account, plan, sub, TemplatePlanUpdated)
}

// UpdatePlan switches an account with a live subscription to another plan.
// Asking for the current plan is a no-op that never reaches the gateway.
// Moving to the free plan only schedules cancellation; the account stays on
// its plan until the gateway reports the subscription deleted.
func (e *Engine) UpdatePlan(ctx context.Context, accountID, planID string) (*PlanResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if planID == "" {
		return nil, billingError(CodePlanRequired)
	}
	plan, err := e.plan(planID)
	if err != nil {
		return nil, err
	}
	if res, err := e.alreadyOnPlan(ctx, accountID, plan); res != nil || err != nil {
		return res, err
	}
	release, res, err := e.lockPlan(ctx, accountID, plan)
	if release == nil {
		return res, err
	}
	defer release()

	res, err = e.updatePlan(ctx, accountID, plan)
	if res == nil || !res.NoOp {
		e.metrics.planChange("update", err)
	}
	return res, err
}

func (e *Engine) updatePlan(ctx context.Context, accountID string, plan billing.Plan) (*PlanResult, error) {
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Plan == plan.ID {
		return &PlanResult{Plan: plan.ID, NoOp: true}, nil
	}

	if account.StripeSubscriptionID == "" {
		if !plan.Free() {
			return nil, billingError(CodePaymentRequired)
		}
		if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{Plan: strPtr(plan.ID)}); err != nil {
			return nil, storeErr(err, ErrAccountNotFound)
		}
		return &PlanResult{Plan: plan.ID, Status: billing.StatusActive}, nil
	}

	sub, err := e.gateway.GetSubscription(ctx, account.StripeSubscriptionID)
	if err != nil {
		return nil, gatewayError(err)
	}

	if plan.Free() {
		if sub.Status == billing.StatusCanceled {
			if err := e.downgrade(ctx, account); err != nil {
				return nil, err
			}
			return &PlanResult{Plan: billing.FreePlan, Status: billing.StatusActive}, nil
		}
		sub, err = e.gateway.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{
			ItemID:            sub.ItemID,
			CancelAtPeriodEnd: boolPtr(true),
		})
		if err != nil {
			return nil, gatewayError(err)
		}
		e.log.Info().Str("account_id", account.ID).Str("subscription_id", sub.ID).Msg("subscription set to cancel at period end")
		e.notifyOwners(ctx, account.ID, TemplatePlanUpdated, map[string]string{"plan": plan.Name})
		return &PlanResult{Plan: account.Plan, Status: effectiveStatus(sub)}, nil
	}

	switch sub.Status {
	case billing.StatusTrialing:
		return nil, billingError(CodeSubscriptionTrialing)
	case billing.StatusCanceled:
		return nil, billingError(CodeSubscriptionCanceled)
	}
	quantity, err := e.seatQuantity(ctx, account.ID, plan)
	if err != nil {
		return nil, err
	}
	sub, err = e.gateway.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{
		ItemID:            sub.ItemID,
		PriceID:           plan.PriceID,
		Quantity:          quantity,
		Metered:           plan.Metered(),
		CancelAtPeriodEnd: boolPtr(false),
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{Plan: strPtr(plan.ID)}); err != nil {
		return nil, storeErr(err, ErrAccountNotFound)
	}
	if plan.Metered() {
		e.openUsage(ctx, account.ID)
	}
	e.log.Info().Str("account_id", account.ID).Str("from", account.Plan).Str("plan", plan.ID).Msg("plan updated")
	e.notifyOwners(ctx, account.ID, TemplatePlanUpdated, map[string]string{"plan": plan.Name})
	return &PlanResult{Plan: plan.ID, Status: effectiveStatus(sub)}, nil
}

// confirmPlan stores a subscription the client finished paying for.
func (e *Engine) confirmPlan(ctx context.Context, account *store.Account, plan billing.Plan, action *PaymentAction, template string) (*PlanResult, error) {
	if action.SubscriptionID == "" || action.CustomerID == "" {
		return nil, billingError(CodePaymentIncomplete)
	}
	if account.StripeSubscriptionID == action.SubscriptionID && account.Plan == plan.ID {
		return &PlanResult{Plan: plan.ID, NoOp: true}, nil
	}
	if account.StripeCustomerID != "" && account.StripeCustomerID != action.CustomerID {
		return nil, billingError(CodePaymentIncomplete)
	}
	sub, err := e.gateway.GetSubscription(ctx, action.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, billingError(CodePaymentIncomplete)
		}
		return nil, gatewayError(err)
	}
	if sub.CustomerID != action.CustomerID || sub.PriceID != plan.PriceID {
		return nil, billingError(CodePaymentIncomplete)
	}
	switch sub.Status {
	case billing.StatusActive, billing.StatusTrialing:
	default:
		be := billingError(CodePaymentIncomplete)
		be.Action = &PaymentAction{ClientSecret: sub.ClientSecret, CustomerID: sub.CustomerID, SubscriptionID: sub.ID}
		return nil, be
	}
	return e.activatePlan(ctx, account, plan, sub, template)
}

// activatePlan writes a live subscription back to the account.
func (e *Engine) activatePlan(ctx context.Context, account *store.Account, plan billing.Plan, sub *billing.Subscription, template string) (*PlanResult, error) {
	if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{
		Plan:                 strPtr(plan.ID),
		StripeCustomerID:     strPtr(sub.CustomerID),
		StripeSubscriptionID: strPtr(sub.ID),
	}); err != nil {
		return nil, storeErr(err, ErrAccountNotFound)
	}
	if plan.Metered() {
		e.openUsage(ctx, account.ID)
	}
	e.log.Info().
		Str("account_id", account.ID).
		Str("plan", plan.ID).
		Str("subscription_id", sub.ID).
		Str("status", sub.Status).
		Msg("subscription active")
	e.notifyOwners(ctx, account.ID, template, map[string]string{"plan": plan.Name})
	return &PlanResult{Plan: plan.ID, Status: effectiveStatus(sub)}, nil
}

func pendingPayment(plan billing.Plan, sub *billing.Subscription) *PlanResult {
	return &PlanResult{
		Plan:                  plan.ID,
		Status:                sub.Status,
		RequiresPaymentAction: true,
		Action: &PaymentAction{
			ClientSecret:   sub.ClientSecret,
			CustomerID:     sub.CustomerID,
			SubscriptionID: sub.ID,
		},
	}
}

// ensureCustomer returns the account's gateway customer, creating it with
// the owner's email on first use. An existing customer gets token as its
// new card when one is given. The customer id is stored at once so a
// retried request does not create a second customer.
func (e *Engine) ensureCustomer(ctx context.Context, account *store.Account, token string) (string, error) {
	if account.StripeCustomerID != "" {
		if token != "" {
			if err := e.gateway.UpdateCard(ctx, account.StripeCustomerID, token); err != nil {
				return "", gatewayError(err)
			}
		}
		return account.StripeCustomerID, nil
	}
	owner, err := e.owner(ctx, account.ID)
	if err != nil {
		return "", err
	}
	id, err := e.gateway.CreateCustomer(ctx, billing.CustomerParams{
		AccountID:    account.ID,
		Email:        owner.Email,
		Name:         account.Name,
		PaymentToken: token,
	})
	if err != nil {
		return "", gatewayError(err)
	}
	if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{StripeCustomerID: &id}); err != nil {
		return "", storeErr(err, ErrAccountNotFound)
	}
	account.StripeCustomerID = id
	return id, nil
}

// seatQuantity is the member count under seat billing and 1 otherwise.
// Metered items carry no quantity.
func (e *Engine) seatQuantity(ctx context.Context, accountID string, plan billing.Plan) (int64, error) {
	if plan.Metered() {
		return 0, nil
	}
	if !e.config.Billing.SeatBilling {
		return 1, nil
	}
	members, err := e.stores.ListMembers(ctx, accountID)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	return max(int64(len(members)), 1), nil
}

// syncSeats pushes the member count to an active subscription. Failures are
// logged; the membership change that triggered the sync stands.
func (e *Engine) syncSeats(ctx context.Context, accountID string) {
	if !e.config.Billing.SeatBilling {
		return
	}
	account, err := e.stores.GetAccount(ctx, accountID)
	if err != nil || account.StripeSubscriptionID == "" {
		return
	}
	plan, ok := e.catalog.Get(account.Plan)
	if !ok || plan.Free() || plan.Metered() {
		return
	}
	logger := e.log.With().Str("account_id", accountID).Logger()
	sub, err := e.gateway.GetSubscription(ctx, account.StripeSubscriptionID)
	if err != nil {
		logger.Warn().Err(err).Msg("seat sync: subscription lookup failed")
		return
	}
	if sub.Status != billing.StatusActive {
		return
	}
	quantity, err := e.seatQuantity(ctx, accountID, plan)
	if err != nil {
		logger.Warn().Err(err).Msg("seat sync: member count failed")
		return
	}
	if quantity == sub.Quantity {
		return
	}
	if _, err := e.gateway.UpdateSubscription(ctx, sub.ID, billing.SubscriptionUpdate{
		ItemID:   sub.ItemID,
		PriceID:  sub.PriceID,
		Quantity: quantity,
	}); err != nil {
		logger.Error().Err(err).Int64("seats", quantity).Msg("seat sync failed")
		return
	}
	logger.Debug().Int64("seats", quantity).Msg("seats synced")
}

// downgrade moves an account to the free plan and forgets its subscription.
func (e *Engine) downgrade(ctx context.Context, account *store.Account) error {
	empty := ""
	if err := e.stores.UpdateAccount(ctx, account.ID, store.AccountUpdate{
		Plan:                 strPtr(billing.FreePlan),
		StripeSubscriptionID: &empty,
	}); err != nil {
		return storeErr(err, ErrAccountNotFound)
	}
	e.log.Info().Str("account_id", account.ID).Str("from", account.Plan).Msg("account downgraded to free")
	return nil
}

// UpdateCard replaces the default payment method.
func (e *Engine) UpdateCard(ctx context.Context, accountID, paymentToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if paymentToken == "" {
		return billingError(CodePaymentTokenRequired)
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.StripeCustomerID == "" {
		return billingError(CodeNoSubscription)
	}
	if err := e.gateway.UpdateCard(ctx, account.StripeCustomerID, paymentToken); err != nil {
		return gatewayError(err)
	}
	e.notifyOwners(ctx, account.ID, TemplateCardUpdated, nil)
	return nil
}

// Card returns the default payment method, nil when the account has no
// customer yet.
func (e *Engine) Card(ctx context.Context, accountID string) (*Card, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeCustomerID == "" {
		return nil, nil
	}
	card, err := e.gateway.Card(ctx, account.StripeCustomerID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, nil
		}
		return nil, gatewayError(err)
	}
	return card, nil
}

// Invoices lists the account's past invoices.
func (e *Engine) Invoices(ctx context.Context, accountID string) ([]Invoice, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeCustomerID == "" {
		return nil, nil
	}
	invoices, err := e.gateway.Invoices(ctx, account.StripeCustomerID)
	if err != nil {
		return nil, gatewayError(err)
	}
	return invoices, nil
}

// CloseAccount deletes the account the claims belong to. Only its owner may
// do this. The subscription is canceled at once, every member is signed out
// and detached, and members left without any account are deleted.
func (e *Engine) CloseAccount(ctx context.Context, claims *Claims) error {
	if err := e.ready(); err != nil {
		return err
	}
	if claims == nil {
		return authError(CodeInvalid)
	}
	if !claims.Permission.Includes(permission.Owner) {
		return authError(CodeForbidden)
	}
	release, err := e.planLock.acquire(ctx, claims.AccountID, closeLockTarget)
	if errors.Is(err, errSamePlanInFlight) {
		return billingError(CodePlanChangeInProgress)
	}
	if err != nil {
		return err
	}
	defer release()

	err = e.closeAccount(ctx, claims.AccountID)
	e.metrics.planChange("close", err)
	return err
}

func (e *Engine) closeAccount(ctx context.Context, accountID string) error {
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	owner, err := e.owner(ctx, accountID)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return err
	}

	if account.StripeSubscriptionID != "" {
		err := e.gateway.CancelSubscription(ctx, account.StripeSubscriptionID)
		if err != nil && !errors.Is(err, billing.ErrNotFound) {
			return gatewayError(err)
		}
	}

	members, err := e.stores.ListMembers(ctx, accountID)
	if err != nil {
		return storeErr(err, nil)
	}
	for _, m := range members {
		if err := e.detachMember(ctx, accountID, m.UserID); err != nil {
			return err
		}
	}
	if err := e.stores.DeleteKeys(ctx, accountID); err != nil {
		return storeErr(err, nil)
	}
	if e.keyCache != nil {
		e.keyCache.Purge()
	}
	if err := e.stores.DeleteNotificationSettings(ctx, accountID); err != nil {
		return storeErr(err, nil)
	}
	if err := e.stores.DeleteAccount(ctx, accountID); err != nil {
		return storeErr(err, ErrAccountNotFound)
	}

	e.log.Info().Str("account_id", accountID).Int("members", len(members)).Msg("account closed")
	if owner != nil {
		e.notify(ctx, owner.Email, TemplateAccountClosed, accountID, nil)
	}
	return nil
}

// detachMember signs the user out and removes the membership. A user with
// no other account is deleted; otherwise a default pointing here moves to
// another of their accounts.
func (e *Engine) detachMember(ctx context.Context, accountID, userID string) error {
	if _, err := e.Revoke(ctx, TokenSelector{UserID: userID}); err != nil {
		return err
	}
	memberships, err := e.stores.ListMemberships(ctx, userID)
	if err != nil {
		return storeErr(err, nil)
	}
	if err := e.stores.RemoveMember(ctx, accountID, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeErr(err, nil)
	}

	var next string
	for _, m := range memberships {
		if m.AccountID != accountID {
			next = m.AccountID
			break
		}
	}
	if next == "" {
		if err := e.stores.DeleteTokens(ctx, userID); err != nil {
			return storeErr(err, nil)
		}
		if err := e.stores.DeleteUser(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, nil)
		}
		return nil
	}
	user, err := e.stores.GetUser(ctx, userID)
	if err != nil {
		return storeErr(err, nil)
	}
	if user.DefaultAccountID == accountID {
		if err := e.stores.UpdateUser(ctx, userID, store.UserUpdate{DefaultAccountID: &next}); err != nil {
			return storeErr(err, ErrUserNotFound)
		}
	}
	return nil
}

// owner returns the user holding the owner (or master) membership.
func (e *Engine) owner(ctx context.Context, accountID string) (*store.User, error) {
	members, err := e.stores.ListMembers(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	for _, m := range members {
		if m.Permission == permission.Owner || m.Permission == permission.Master {
			return e.getUser(ctx, m.UserID)
		}
	}
	return nil, ErrMemberNotFound
}

// notifyOwners sends template to the account owner when they have it enabled.
func (e *Engine) notifyOwners(ctx context.Context, accountID, template string, content map[string]string) {
	owner, err := e.owner(ctx, accountID)
	if err != nil {
		e.log.Warn().Err(err).Str("account_id", accountID).Str("template", template).Msg("notification skipped: no owner")
		return
	}
	switch template {
	case TemplateNewPlan, TemplateAccountClosed, TemplateNewAPIKey:
		e.notify(ctx, owner.Email, template, accountID, content)
	default:
		e.notifyIfEnabled(ctx, owner.ID, owner.Email, template, accountID, content)
	}
}
