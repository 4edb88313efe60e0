package goTenant

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/store"
)

// HandleBillingEvent verifies and applies one gateway webhook. A deleted
// subscription moves the owning account to the free plan no matter who
// canceled it. Other event types, and events for unknown customers, are
// acknowledged and ignored.
func (e *Engine) HandleBillingEvent(ctx context.Context, payload []byte, signature string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ev, err := e.gateway.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return billingError(CodeInvalidSignature)
		}
		return &BillingError{Code: CodeInvalidSignature, Cause: err}
	}
	logger := e.log.With().Str("event_id", ev.ID).Str("type", ev.Type).Logger()

	if ev.Type != billing.EventSubscriptionDeleted {
		logger.Debug().Msg("billing event ignored")
		return nil
	}
	account, err := e.stores.GetAccountByCustomer(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Str("customer_id", ev.CustomerID).Msg("billing event for unknown customer")
			return nil
		}
		return storeErr(err, nil)
	}
	if account.StripeSubscriptionID != "" && ev.SubscriptionID != "" && account.StripeSubscriptionID != ev.SubscriptionID {
		logger.Info().
			Str("account_id", account.ID).
			Str("subscription_id", ev.SubscriptionID).
			Msg("deleted subscription is not the account's current one")
		return nil
	}

	err = e.downgrade(ctx, account)
	e.metrics.planChange("webhook_cancel", err)
	if err != nil {
		return err
	}
	e.notifyOwners(ctx, account.ID, TemplatePlanUpdated, map[string]string{"plan": billing.FreePlan})
	return nil
}
