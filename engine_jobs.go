package goTenant

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/store"
	"github.com/MrEthical07/goTenant/worker"
)

// Job family names as registered on a worker.Runner.
const (
	JobUsage      = "usage"
	JobOnboarding = "onboarding"
)

// RegisterJobs schedules the usage and onboarding jobs on r.
func (e *Engine) RegisterJobs(r *worker.Runner) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := r.Register(JobUsage, e.config.Usage.Schedule, func(ctx context.Context) error {
		res, err := e.ReportUsage(ctx)
		e.log.Info().
			Int("records", res.Records).
			Int("reported", res.Reported).
			Int("failed", res.Failed).
			Int("closed", res.Closed).
			Int("opened", res.Opened).
			Msg("usage reporting finished")
		return err
	}); err != nil {
		return err
	}
	return r.Register(JobOnboarding, e.config.Onboarding.Schedule, func(ctx context.Context) error {
		res, err := e.RunOnboarding(ctx)
		e.log.Info().
			Int("trial_expiring", res.TrialExpiring).
			Int("trial_expired", res.TrialExpired).
			Int("unverified_account", res.UnverifiedAccount).
			Msg("onboarding finished")
		return err
	})
}

// ReportUsage closes every open usage period, sends each closed record that
// is still unreported to the gateway and marks the ones that went through.
// Accounts still on a metered plan get their next period in the same store
// step as the close, so increments arriving mid-run land there. A record
// whose report fails stays closed and unreported and is retried on the
// next run. Failures come back joined as *UsageError values alongside the
// result.
func (e *Engine) ReportUsage(ctx context.Context) (UsageReportResult, error) {
	if err := e.ready(); err != nil {
		return UsageReportResult{}, err
	}
	records, err := e.stores.UnreportedUsage(ctx)
	if err != nil {
		return UsageReportResult{}, storeErr(err, nil)
	}
	res := UsageReportResult{Records: len(records)}
	if len(records) == 0 {
		return res, nil
	}

	var failures []error
	pending := make([]store.UsageRecord, 0, len(records))
	hasOpen := make(map[string]bool, len(records))
	for _, r := range records {
		if !r.Open() {
			pending = append(pending, r)
			continue
		}
		hasOpen[r.AccountID] = true
		reopen, err := e.meteredAccount(ctx, r.AccountID)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		closed, err := e.stores.CloseUsage(ctx, r.AccountID, reopen)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			failures = append(failures, storeErr(err, nil))
			continue
		}
		res.Closed++
		if reopen {
			res.Opened++
		}
		closed.StripeCustomerID = r.StripeCustomerID
		closed.StripeSubscriptionID = r.StripeSubscriptionID
		pending = append(pending, *closed)
	}

	var (
		mu      sync.Mutex
		settled = make([]string, 0, len(pending))
		g       errgroup.Group
	)
	g.SetLimit(e.config.Usage.ReportConcurrency)
	for _, r := range pending {
		g.Go(func() error {
			sent, err := e.reportRecord(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				failures = append(failures, err)
				return nil
			}
			if sent {
				res.Reported++
			}
			settled = append(settled, r.ID)
			return nil
		})
	}
	_ = g.Wait()

	if _, err := e.stores.MarkUsageReported(ctx, settled); err != nil {
		failures = append(failures, storeErr(err, nil))
	}

	// accounts left without an open period by an earlier failed open
	seen := make(map[string]bool, len(pending))
	for _, r := range pending {
		if hasOpen[r.AccountID] || seen[r.AccountID] {
			continue
		}
		seen[r.AccountID] = true
		opened, err := e.openNextPeriod(ctx, r.AccountID)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if opened {
			res.Opened++
		}
	}
	return res, errors.Join(failures...)
}

// reportRecord sends one record. Records without a subscription are
// settled without a report.
func (e *Engine) reportRecord(ctx context.Context, r store.UsageRecord) (bool, error) {
	logger := e.log.With().Str("record_id", r.ID).Str("account_id", r.AccountID).Logger()
	if r.StripeSubscriptionID == "" {
		logger.Debug().Msg("usage not reported: no subscription")
		return false, nil
	}
	err := e.gateway.ReportUsage(ctx, billing.UsageReport{
		CustomerID:     r.StripeCustomerID,
		SubscriptionID: r.StripeSubscriptionID,
		Quantity:       r.Quantity,
		Identifier:     r.ID,
		Timestamp:      e.now().UTC(),
	})
	e.metrics.usageReport(err == nil)
	if err != nil {
		logger.Error().Err(err).Int64("quantity", r.Quantity).Msg("usage report failed; kept for the next run")
		return false, &UsageError{AccountID: r.AccountID, RecordID: r.ID, Cause: err}
	}
	return true, nil
}

// meteredAccount reports whether the account exists and is on a metered plan.
func (e *Engine) meteredAccount(ctx context.Context, accountID string) (bool, error) {
	account, err := e.stores.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, storeErr(err, nil)
	}
	plan, ok := e.catalog.Get(account.Plan)
	return ok && plan.Metered(), nil
}

func (e *Engine) openNextPeriod(ctx context.Context, accountID string) (bool, error) {
	metered, err := e.meteredAccount(ctx, accountID)
	if err != nil || !metered {
		return false, err
	}
	if _, err := e.stores.OpenUsage(ctx, accountID); err != nil {
		return false, storeErr(err, nil)
	}
	return true, nil
}

// openUsage opens a period for a metered plan. Failures are logged; the
// next usage job opens it.
func (e *Engine) openUsage(ctx context.Context, accountID string) {
	if _, err := e.stores.OpenUsage(ctx, accountID); err != nil {
		e.log.Error().Err(err).Str("account_id", accountID).Msg("usage period not opened")
	}
}

// RunOnboarding sends the daily lifecycle notifications: trials ending in
// Onboarding.TrialLeadDays days, trials that converted to paid today, and
// users created yesterday who still have not verified their email.
func (e *Engine) RunOnboarding(ctx context.Context) (OnboardingResult, error) {
	if err := e.ready(); err != nil {
		return OnboardingResult{}, err
	}
	var res OnboardingResult
	today := truncateDay(e.now().UTC())
	lead := e.config.Onboarding.TrialLeadDays

	var errs []error
	trials, err := e.gateway.ListSubscriptions(ctx, billing.StatusTrialing)
	if err != nil {
		errs = append(errs, gatewayError(err))
	}
	target := today.AddDate(0, 0, lead)
	for _, sub := range trials {
		if sub.CustomerEmail == "" || !truncateDay(sub.TrialEnd.UTC()).Equal(target) {
			continue
		}
		e.notify(ctx, sub.CustomerEmail, TemplateTrialExpiring, e.accountForCustomer(ctx, sub.CustomerID), map[string]string{
			"days":      strconv.Itoa(lead),
			"trial_end": sub.TrialEnd.UTC().Format(time.DateOnly),
		})
		res.TrialExpiring++
	}

	active, err := e.gateway.ListSubscriptions(ctx, billing.StatusActive)
	if err != nil {
		errs = append(errs, gatewayError(err))
	}
	for _, sub := range active {
		if sub.CustomerEmail == "" || sub.TrialEnd.IsZero() || !truncateDay(sub.TrialEnd.UTC()).Equal(today) {
			continue
		}
		e.notify(ctx, sub.CustomerEmail, TemplateTrialExpired, e.accountForCustomer(ctx, sub.CustomerID), nil)
		res.TrialExpired++
	}

	n, err := e.remindUnverified(ctx, today.AddDate(0, 0, -1), today)
	res.UnverifiedAccount = n
	if err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (e *Engine) remindUnverified(ctx context.Context, from, to time.Time) (int, error) {
	users, err := e.stores.UnverifiedUsers(ctx, from, to)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	sent := 0
	for _, u := range users {
		// the list may be stale by the time we get here
		cur, err := e.stores.GetUser(ctx, u.ID)
		if err != nil || cur.Verified {
			continue
		}
		token, err := e.jwt.CreateChallenge(jwt.PurposeVerify, jwt.ChallengeClaims{UserID: cur.ID}, time.Hour)
		if err != nil {
			return sent, err
		}
		e.notify(ctx, cur.Email, TemplateUnverifiedAccount, cur.DefaultAccountID, map[string]string{
			"token":  token,
			"verify": link(e.config.Notification.VerifyURL, token),
		})
		sent++
	}
	return sent, nil
}

func (e *Engine) accountForCustomer(ctx context.Context, customerID string) string {
	a, err := e.stores.GetAccountByCustomer(ctx, customerID)
	if err != nil {
		return ""
	}
	return a.ID
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
