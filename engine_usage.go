package goTenant

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goTenant/store"
)

// RecordUsage adds qty billable units to the account's open usage period.
// Without an open period nothing is recorded; the drop is logged and
// counted rather than returned.
func (e *Engine) RecordUsage(ctx context.Context, accountID string, qty int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return errors.New("usage quantity must be positive")
	}
	ok, err := e.stores.IncrementUsage(ctx, accountID, qty)
	if err != nil {
		return storeErr(err, nil)
	}
	if !ok {
		e.metrics.usageIncrementDropped()
		e.log.Warn().Str("account_id", accountID).Int64("quantity", qty).Msg("usage dropped: no open period")
	}
	return nil
}

// UsageSummary totals the account's usage in the current monthly period,
// which starts on the day of month the account was created.
func (e *Engine) UsageSummary(ctx context.Context, accountID string) (*UsageSummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	start, end := billingPeriod(account.CreatedAt, e.now())
	total, err := e.stores.UsageTotal(ctx, accountID, start, end)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	sum := &UsageSummary{AccountID: accountID, PeriodStart: start, PeriodEnd: end, Quantity: total}
	open, err := e.stores.CurrentUsage(ctx, accountID)
	switch {
	case err == nil:
		sum.Open = open
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeErr(err, nil)
	}
	return sum, nil
}

// billingPeriod returns the monthly window containing now, anchored on
// anchor's day of month. Short months clamp the anchor to their last day.
func billingPeriod(anchor, now time.Time) (time.Time, time.Time) {
	anchor, now = anchor.UTC(), now.UTC()
	y, m, _ := now.Date()
	start := anchorDay(y, m, anchor.Day())
	if now.Before(start) {
		start = anchorDay(y, m-1, anchor.Day())
	}
	sy, sm, _ := start.Date()
	return start, anchorDay(sy, sm+1, anchor.Day())
}

func anchorDay(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(day, last)-1)
}
