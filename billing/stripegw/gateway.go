// Package stripegw implements billing.Gateway on Stripe. Each Gateway owns
// its own API client, so no package-level key is ever set.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Config configures the adapter.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// MeterEvent is the billing meter event name usage is reported under.
	MeterEvent string
	// Tolerance bounds webhook timestamp skew; zero uses the library default.
	Tolerance time.Duration
}

// api holds the SDK calls the adapter makes. Tests replace entries.
type api struct {
	newCustomer        func(*stripe.CustomerParams) (*stripe.Customer, error)
	getCustomer        func(string, *stripe.CustomerParams) (*stripe.Customer, error)
	updateCustomer     func(string, *stripe.CustomerParams) (*stripe.Customer, error)
	attachMethod       func(string, *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	newSubscription    func(*stripe.SubscriptionParams) (*stripe.Subscription, error)
	getSubscription    func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)
	updateSubscription func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)
	cancelSubscription func(string, *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	listSubscriptions  func(*stripe.SubscriptionListParams) ([]*stripe.Subscription, error)
	listInvoices       func(*stripe.InvoiceListParams) ([]*stripe.Invoice, error)
	newMeterEvent      func(*stripe.BillingMeterEventParams) (*stripe.BillingMeterEvent, error)
}

// Gateway is the Stripe-backed billing.Gateway.
type Gateway struct {
	cfg Config
	api api
}

// New validates cfg and builds a client bound to its secret key.
func New(cfg Config) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.MeterEvent == "" {
		cfg.MeterEvent = "usage"
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return &Gateway{cfg: cfg, api: fromClient(sc)}, nil
}

func fromClient(sc *client.API) api {
	return api{
		newCustomer:        sc.Customers.New,
		getCustomer:        sc.Customers.Get,
		updateCustomer:     sc.Customers.Update,
		attachMethod:       sc.PaymentMethods.Attach,
		newSubscription:    sc.Subscriptions.New,
		getSubscription:    sc.Subscriptions.Get,
		updateSubscription: sc.Subscriptions.Update,
		cancelSubscription: sc.Subscriptions.Cancel,
		listSubscriptions: func(p *stripe.SubscriptionListParams) ([]*stripe.Subscription, error) {
			var out []*stripe.Subscription
			it := sc.Subscriptions.List(p)
			for it.Next() {
				out = append(out, it.Subscription())
			}
			return out, it.Err()
		},
		listInvoices: func(p *stripe.InvoiceListParams) ([]*stripe.Invoice, error) {
			var out []*stripe.Invoice
			it := sc.Invoices.List(p)
			for it.Next() {
				out = append(out, it.Invoice())
			}
			return out, it.Err()
		},
		newMeterEvent: sc.BillingMeterEvents.New,
	}
}

// CreateCustomer creates the customer with the payment method attached and
// set as the invoice default.
func (g *Gateway) CreateCustomer(ctx context.Context, p billing.CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
		Name:  stripe.String(p.Name),
	}
	params.Context = ctx
	if p.PaymentToken != "" {
		params.PaymentMethod = stripe.String(p.PaymentToken)
		params.InvoiceSettings = &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(p.PaymentToken),
		}
	}
	if p.AccountID != "" {
		params.AddMetadata("account_id", p.AccountID)
		params.SetIdempotencyKey("customer-" + p.AccountID + "-" + p.PaymentToken)
	}
	c, err := g.api.newCustomer(params)
	if err != nil {
		return "", wrap("create customer", err)
	}
	return c.ID, nil
}

func (g *Gateway) UpdateCard(ctx context.Context, customerID, paymentToken string) error {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attach.Context = ctx
	if _, err := g.api.attachMethod(paymentToken, attach); err != nil {
		return wrap("attach payment method", err)
	}
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentToken),
		},
	}
	params.Context = ctx
	if _, err := g.api.updateCustomer(customerID, params); err != nil {
		return wrap("set default payment method", err)
	}
	return nil
}

func (g *Gateway) Card(ctx context.Context, customerID string) (*billing.Card, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")
	c, err := g.api.getCustomer(customerID, params)
	if err != nil {
		return nil, wrap("get customer", err)
	}
	if c.InvoiceSettings == nil || c.InvoiceSettings.DefaultPaymentMethod == nil || c.InvoiceSettings.DefaultPaymentMethod.Card == nil {
		return nil, billing.ErrNotFound
	}
	card := c.InvoiceSettings.DefaultPaymentMethod.Card
	return &billing.Card{
		Brand:    string(card.Brand),
		Last4:    card.Last4,
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
	}, nil
}

// CreateSubscription lets the first invoice stay incomplete so a payment
// that needs 3-D Secure comes back with a client secret instead of failing.
func (g *Gateway) CreateSubscription(ctx context.Context, p billing.SubscriptionParams) (*billing.Subscription, error) {
	item := &stripe.SubscriptionItemsParams{Price: stripe.String(p.PriceID)}
	if !p.Metered && p.Quantity > 0 {
		item.Quantity = stripe.Int64(p.Quantity)
	}
	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(p.CustomerID),
		Items:           []*stripe.SubscriptionItemsParams{item},
		PaymentBehavior: stripe.String("allow_incomplete"),
	}
	params.Context = ctx
	if p.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.AddExpand("latest_invoice.confirmation_secret")
	s, err := g.api.newSubscription(params)
	if err != nil {
		return nil, wrap("create subscription", err)
	}
	return convertSubscription(s), nil
}

func (g *Gateway) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.confirmation_secret")
	s, err := g.api.getSubscription(id, params)
	if err != nil {
		return nil, wrap("get subscription", err)
	}
	return convertSubscription(s), nil
}

func (g *Gateway) UpdateSubscription(ctx context.Context, id string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if upd.PriceID != "" {
		item := &stripe.SubscriptionItemsParams{Price: stripe.String(upd.PriceID)}
		if upd.ItemID != "" {
			item.ID = stripe.String(upd.ItemID)
		}
		if !upd.Metered && upd.Quantity > 0 {
			item.Quantity = stripe.Int64(upd.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	}
	if upd.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*upd.CancelAtPeriodEnd)
	}
	s, err := g.api.updateSubscription(id, params)
	if err != nil {
		return nil, wrap("update subscription", err)
	}
	return convertSubscription(s), nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.cancelSubscription(id, params); err != nil {
		return wrap("cancel subscription", err)
	}
	return nil
}

func (g *Gateway) ListSubscriptions(ctx context.Context, status string) ([]billing.Subscription, error) {
	params := &stripe.SubscriptionListParams{Status: stripe.String(status)}
	params.Context = ctx
	params.AddExpand("data.customer")
	subs, err := g.api.listSubscriptions(params)
	if err != nil {
		return nil, wrap("list subscriptions", err)
	}
	out := make([]billing.Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, *convertSubscription(s))
	}
	return out, nil
}

// ReportUsage sends one meter event. The record id is the event identifier
// so Stripe drops a retried report.
func (g *Gateway) ReportUsage(ctx context.Context, r billing.UsageReport) error {
	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(g.cfg.MeterEvent),
		Identifier: stripe.String(r.Identifier),
		Payload: map[string]string{
			"stripe_customer_id": r.CustomerID,
			"value":              strconv.FormatInt(r.Quantity, 10),
		},
	}
	params.Context = ctx
	if !r.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(r.Timestamp.Unix())
	}
	if _, err := g.api.newMeterEvent(params); err != nil {
		return wrap("report usage", err)
	}
	return nil
}

func (g *Gateway) Invoices(ctx context.Context, customerID string) ([]billing.Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	invs, err := g.api.listInvoices(params)
	if err != nil {
		return nil, wrap("list invoices", err)
	}
	out := make([]billing.Invoice, 0, len(invs))
	for _, inv := range invs {
		out = append(out, billing.Invoice{
			Number:   inv.Number,
			Date:     time.Unix(inv.Created, 0).UTC(),
			Status:   string(inv.Status),
			PDF:      inv.InvoicePDF,
			Total:    inv.Total,
			Currency: string(inv.Currency),
		})
	}
	return out, nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the
// subscription and customer ids from subscription events.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*billing.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
	}
	out := &billing.Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil && len(ev.Data.Raw) > 0 && ev.Data.Object["object"] == "subscription" {
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode subscription event: %w", err)
		}
		out.SubscriptionID = s.ID
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}
	}
	return out, nil
}

func convertSubscription(s *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Created:           time.Unix(s.Created, 0).UTC(),
	}
	if s.TrialEnd > 0 {
		out.TrialEnd = time.Unix(s.TrialEnd, 0).UTC()
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		out.CustomerEmail = s.Customer.Email
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.Quantity = item.Quantity
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	if s.LatestInvoice != nil && s.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = s.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out
}

func wrap(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == 404 {
		return fmt.Errorf("stripe %s: %w", op, billing.ErrNotFound)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

var _ billing.Gateway = (*Gateway)(nil)
