// Package billingtest provides an in-memory billing.Gateway for tests.
package billingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goTenant/billing"
)

// Gateway is a concurrency-safe fake. Zero value is not usable; call New.
type Gateway struct {
	mu sync.Mutex

	seq           int
	customers     map[string]billing.CustomerParams
	cards         map[string]string
	subscriptions map[string]*billing.Subscription
	usage         []billing.UsageReport
	invoices      map[string][]billing.Invoice
	calls         map[string]int

	// RequireAction makes CreateSubscription return an incomplete
	// subscription with a client secret.
	RequireAction bool
	// FailUsageFor makes ReportUsage fail for these subscription ids.
	FailUsageFor map[string]error
	// Err, when set, is returned by every call.
	Err error
	// Now stamps Created on new subscriptions.
	Now func() time.Time
}

// New returns an empty fake gateway.
func New() *Gateway {
	return &Gateway{
		customers:     make(map[string]billing.CustomerParams),
		cards:         make(map[string]string),
		subscriptions: make(map[string]*billing.Subscription),
		invoices:      make(map[string][]billing.Invoice),
		calls:         make(map[string]int),
		FailUsageFor:  make(map[string]error),
		Now:           time.Now,
	}
}

func (g *Gateway) enter(name string) error {
	g.calls[name]++
	return g.Err
}

func (g *Gateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

// Calls returns how often method was invoked.
func (g *Gateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// TotalCalls returns the number of gateway calls of any kind.
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// Usage returns the usage reports received so far.
func (g *Gateway) Usage() []billing.UsageReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]billing.UsageReport(nil), g.usage...)
}

// Subscription returns a copy of a stored subscription.
func (g *Gateway) Subscription(id string) (billing.Subscription, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[id]
	if !ok {
		return billing.Subscription{}, false
	}
	return *s, true
}

// SetSubscription inserts or replaces a subscription.
func (g *Gateway) SetSubscription(s billing.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := s
	g.subscriptions[s.ID] = &cp
}

// Confirm completes a pending payment on a subscription.
func (g *Gateway) Confirm(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.subscriptions[id]; ok {
		s.Status = billing.StatusActive
		s.ClientSecret = ""
	}
}

// AddInvoice appends an invoice for a customer.
func (g *Gateway) AddInvoice(customerID string, inv billing.Invoice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[customerID] = append(g.invoices[customerID], inv)
}

func (g *Gateway) CreateCustomer(_ context.Context, p billing.CustomerParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateCustomer"); err != nil {
		return "", err
	}
	id := g.next("cus")
	g.customers[id] = p
	g.cards[id] = p.PaymentToken
	return id, nil
}

func (g *Gateway) UpdateCard(_ context.Context, customerID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("UpdateCard"); err != nil {
		return err
	}
	if _, ok := g.customers[customerID]; !ok {
		return billing.ErrNotFound
	}
	g.cards[customerID] = token
	return nil
}

func (g *Gateway) Card(_ context.Context, customerID string) (*billing.Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Card"); err != nil {
		return nil, err
	}
	tok, ok := g.cards[customerID]
	if !ok || tok == "" {
		return nil, billing.ErrNotFound
	}
	last4 := tok
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return &billing.Card{Brand: "visa", Last4: last4, ExpMonth: 12, ExpYear: 2030}, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, p billing.SubscriptionParams) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateSubscription"); err != nil {
		return nil, err
	}
	c, ok := g.customers[p.CustomerID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	now := g.Now()
	s := &billing.Subscription{
		ID:            g.next("sub"),
		CustomerID:    p.CustomerID,
		CustomerEmail: c.Email,
		Status:        billing.StatusActive,
		ItemID:        g.next("si"),
		PriceID:       p.PriceID,
		Quantity:      p.Quantity,
		Created:       now,
	}
	if p.TrialDays > 0 {
		s.Status = billing.StatusTrialing
		s.TrialEnd = now.AddDate(0, 0, p.TrialDays)
	}
	if g.RequireAction {
		s.Status = billing.StatusIncomplete
		s.ClientSecret = "pi_secret_" + s.ID
	}
	g.subscriptions[s.ID] = s
	out := *s
	return &out, nil
}

func (g *Gateway) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (g *Gateway) UpdateSubscription(_ context.Context, id string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("UpdateSubscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	if upd.PriceID != "" {
		s.PriceID = upd.PriceID
	}
	if upd.Quantity > 0 {
		s.Quantity = upd.Quantity
	}
	if upd.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	out := *s
	return &out, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CancelSubscription"); err != nil {
		return err
	}
	s, ok := g.subscriptions[id]
	if !ok {
		return billing.ErrNotFound
	}
	s.Status = billing.StatusCanceled
	return nil
}

func (g *Gateway) ListSubscriptions(_ context.Context, status string) ([]billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ListSubscriptions"); err != nil {
		return nil, err
	}
	var out []billing.Subscription
	for _, s := range g.subscriptions {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Gateway) ReportUsage(_ context.Context, r billing.UsageReport) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ReportUsage"); err != nil {
		return err
	}
	if err := g.FailUsageFor[r.SubscriptionID]; err != nil {
		return err
	}
	for _, u := range g.usage {
		if u.Identifier != "" && u.Identifier == r.Identifier {
			return nil
		}
	}
	g.usage = append(g.usage, r)
	return nil
}

func (g *Gateway) Invoices(_ context.Context, customerID string) ([]billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Invoices"); err != nil {
		return nil, err
	}
	return append([]billing.Invoice(nil), g.invoices[customerID]...), nil
}

// ParseEvent accepts payloads whose signature is "valid" and reads the
// event from a "type|customer|subscription" payload.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*billing.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ParseEvent"]++
	if signature != "valid" {
		return nil, billing.ErrInvalidSignature
	}
	var ev billing.Event
	parts := splitPipe(string(payload))
	if len(parts) != 3 {
		return nil, fmt.Errorf("billingtest: malformed payload %q", payload)
	}
	ev.ID = g.next("evt")
	ev.Type, ev.CustomerID, ev.SubscriptionID = parts[0], parts[1], parts[2]
	return &ev, nil
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

var _ billing.Gateway = (*Gateway)(nil)
