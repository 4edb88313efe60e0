package billing

import (
	"errors"
	"fmt"
)

// FreePlan is the plan id every account without a paid subscription is on.
const FreePlan = "free"

// PlanType is how a plan is charged.
type PlanType string

const (
	Flat   PlanType = "flat"
	Tiered PlanType = "tiered"
)

// Plan is a catalog entry. Price is in minor currency units.
type Plan struct {
	ID        string   `mapstructure:"id" json:"id"`
	Name      string   `mapstructure:"name" json:"name"`
	Type      PlanType `mapstructure:"type" json:"type"`
	Price     int64    `mapstructure:"price" json:"price"`
	Currency  string   `mapstructure:"currency" json:"currency"`
	Interval  string   `mapstructure:"interval" json:"interval"`
	TrialDays int      `mapstructure:"trial_days" json:"trial_days"`
	PriceID   string   `mapstructure:"price_id" json:"price_id"`
}

// Free reports whether p needs no subscription.
func (p Plan) Free() bool { return p.ID == FreePlan }

// Metered reports whether p is billed on reported usage.
func (p Plan) Metered() bool { return p.Type == Tiered }

// Catalog is the read-only plan list.
type Catalog struct {
	plans map[string]Plan
	order []string
}

// NewCatalog indexes plans by id. A free plan is added when missing.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans)+1)}
	for _, p := range plans {
		if p.ID == "" {
			return nil, errors.New("plan id required")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.Type == "" {
			p.Type = Flat
		}
		if p.Type != Flat && p.Type != Tiered {
			return nil, fmt.Errorf("plan %q: unknown type %q", p.ID, p.Type)
		}
		if !p.Free() && p.PriceID == "" {
			return nil, fmt.Errorf("plan %q: price id required", p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	if _, ok := c.plans[FreePlan]; !ok {
		c.plans[FreePlan] = Plan{ID: FreePlan, Name: "Free", Type: Flat}
		c.order = append([]string{FreePlan}, c.order...)
	}
	return c, nil
}

// Get looks up a plan by id.
func (c *Catalog) Get(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Plans returns the catalog in configuration order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
