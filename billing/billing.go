// Package billing describes the subset of a payment processor the engine
// depends on: customers, subscriptions, invoices, usage reports and
// webhook events. Adapters live in subpackages.
package billing

import (
	"context"
	"errors"
	"time"
)

// Subscription statuses as reported by the gateway, plus Canceling which the
// engine derives for an active subscription set to end at period end.
const (
	StatusTrialing   = "trialing"
	StatusActive     = "active"
	StatusIncomplete = "incomplete"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
	StatusCanceling  = "canceling"
)

// EventSubscriptionDeleted is the gateway event that force-downgrades an account.
const EventSubscriptionDeleted = "customer.subscription.deleted"

var (
	// ErrInvalidSignature is returned by ParseEvent for unsigned or tampered payloads.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	// ErrNotFound is returned when the gateway has no such object.
	ErrNotFound = errors.New("billing: not found")
)

// Subscription is the gateway's view of a subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	CustomerEmail     string
	Status            string
	ItemID            string
	PriceID           string
	Quantity          int64
	CancelAtPeriodEnd bool
	TrialEnd          time.Time
	Created           time.Time
	// ClientSecret is set when the first payment needs customer action.
	ClientSecret string
}

// RequiresAction reports whether the customer must confirm the payment
// before the subscription becomes usable.
func (s *Subscription) RequiresAction() bool {
	return s != nil && s.Status == StatusIncomplete && s.ClientSecret != ""
}

// CustomerParams creates a customer with an attached payment method.
type CustomerParams struct {
	AccountID    string
	Email        string
	Name         string
	PaymentToken string
}

// SubscriptionParams creates a subscription on one price.
type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	TrialDays  int
	Metered    bool
	// IdempotencyKey lets a retried request reuse the first attempt.
	IdempotencyKey string
}

// SubscriptionUpdate replaces the single item's price and quantity and sets
// CancelAtPeriodEnd when non-nil.
type SubscriptionUpdate struct {
	ItemID            string
	PriceID           string
	Quantity          int64
	Metered           bool
	CancelAtPeriodEnd *bool
}

// Card summarizes the default payment method.
type Card struct {
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// Invoice is one billed period.
type Invoice struct {
	Number   string
	Date     time.Time
	Status   string
	PDF      string
	Total    int64
	Currency string
}

// UsageReport is one metered quantity for a closed usage period.
type UsageReport struct {
	CustomerID     string
	SubscriptionID string
	Quantity       int64
	// Identifier deduplicates retries of the same report.
	Identifier string
	Timestamp  time.Time
}

// Event is a verified webhook event.
type Event struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
}

// Gateway is the billing processor boundary.
type Gateway interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	UpdateCard(ctx context.Context, customerID, paymentToken string) error
	Card(ctx context.Context, customerID string) (*Card, error)
	CreateSubscription(ctx context.Context, p SubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	// ListSubscriptions returns subscriptions in status with the customer email filled.
	ListSubscriptions(ctx context.Context, status string) ([]Subscription, error)
	ReportUsage(ctx context.Context, r UsageReport) error
	Invoices(ctx context.Context, customerID string) ([]Invoice, error)
	ParseEvent(payload []byte, signature string) (*Event, error)
}
