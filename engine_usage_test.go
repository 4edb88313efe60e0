package goTenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/store"
)

func TestRecordUsageWithoutOpenPeriodIsDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.signup(t, "noperiod@example.com")

	if err := env.engine.RecordUsage(ctx, res.AccountID, 5); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if got := testutil.ToFloat64(env.engine.Metrics().usageDropped); got != 1 {
		t.Fatalf("dropped counter = %v, want 1", got)
	}
	sum, err := env.engine.UsageSummary(ctx, res.AccountID)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Quantity != 0 || sum.Open != nil {
		t.Fatalf("summary = %+v", sum)
	}
	if err := env.engine.RecordUsage(ctx, res.AccountID, -1); err == nil {
		t.Fatal("negative usage accepted")
	}
}

func TestConcurrentUsageIncrements(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "metered@example.com", "metered")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := env.engine.RecordUsage(ctx, res.AccountID, 0); err != nil {
				t.Errorf("RecordUsage: %v", err)
			}
		}()
	}
	wg.Wait()

	sum, err := env.engine.UsageSummary(ctx, res.AccountID)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Open == nil || sum.Open.Quantity != n {
		t.Fatalf("open record = %+v, want quantity %d", sum.Open, n)
	}
	if sum.Quantity != n {
		t.Fatalf("period total = %d, want %d", sum.Quantity, n)
	}
	if !sum.PeriodEnd.After(sum.PeriodStart) {
		t.Fatalf("period %v..%v", sum.PeriodStart, sum.PeriodEnd)
	}
}

func TestReportUsageClosesAndReopens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ok := env.subscribe(t, "ok@example.com", "metered")
	bad := env.subscribe(t, "bad@example.com", "metered")
	if err := env.engine.RecordUsage(ctx, ok.AccountID, 7); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := env.engine.RecordUsage(ctx, bad.AccountID, 3); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	badSub := env.account(t, bad.AccountID).StripeSubscriptionID
	env.gateway.FailUsageFor[badSub] = errors.New("card declined")

	before, _ := env.store.CurrentUsage(ctx, ok.AccountID)
	res, err := env.engine.ReportUsage(ctx)

	var ue *UsageError
	if !errors.As(err, &ue) || ue.AccountID != bad.AccountID {
		t.Fatalf("expected a usage error for %s, got %v", bad.AccountID, err)
	}
	if !errors.Is(err, ErrUsageReport) {
		t.Fatalf("error does not wrap ErrUsageReport: %v", err)
	}
	if res.Records != 2 || res.Reported != 1 || res.Failed != 1 || res.Closed != 2 || res.Opened != 2 {
		t.Fatalf("result = %+v", res)
	}

	reports := env.gateway.Usage()
	if len(reports) != 1 || reports[0].Quantity != 7 || reports[0].Identifier != before.ID {
		t.Fatalf("reports = %+v", reports)
	}
	after, err := env.store.CurrentUsage(ctx, ok.AccountID)
	if err != nil {
		t.Fatalf("CurrentUsage: %v", err)
	}
	if after.ID == before.ID || after.Quantity != 0 {
		t.Fatalf("next period not opened: %+v", after)
	}

	// the failed record is retried alongside both fresh periods
	delete(env.gateway.FailUsageFor, badSub)
	again, err := env.engine.ReportUsage(ctx)
	if err != nil {
		t.Fatalf("second ReportUsage: %v", err)
	}
	if again.Records != 3 || again.Reported != 3 || again.Failed != 0 || again.Closed != 2 {
		t.Fatalf("second run = %+v", again)
	}
	if got := reportedFor(env.gateway.Usage(), badSub); got != 3 {
		t.Fatalf("gateway received %d units for the failed account, want 3", got)
	}

	third, err := env.engine.ReportUsage(ctx)
	if err != nil {
		t.Fatalf("third ReportUsage: %v", err)
	}
	if third.Records != 2 {
		t.Fatalf("reported records came back: %+v", third)
	}
}

func reportedFor(reports []billing.UsageReport, subscriptionID string) int64 {
	var total int64
	for _, r := range reports {
		if r.SubscriptionID == subscriptionID {
			total += r.Quantity
		}
	}
	return total
}

// lateIncrementStore records usage right after the unreported records are
// listed, the way a request racing the usage job would.
type lateIncrementStore struct {
	store.Backend
	engine    *Engine
	accountID string
	qty       int64
}

func (s *lateIncrementStore) UnreportedUsage(ctx context.Context) ([]store.UsageRecord, error) {
	records, err := s.Backend.UnreportedUsage(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.engine.RecordUsage(ctx, s.accountID, s.qty); err != nil {
		return nil, err
	}
	return records, nil
}

func TestReportUsageKeepsIncrementsDuringRun(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "racing@example.com", "metered")
	if err := env.engine.RecordUsage(ctx, res.AccountID, 5); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	sub := env.account(t, res.AccountID).StripeSubscriptionID

	env.engine.stores = &lateIncrementStore{Backend: env.store, engine: env.engine, accountID: res.AccountID, qty: 2}
	if _, err := env.engine.ReportUsage(ctx); err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	env.engine.stores = env.store
	if _, err := env.engine.ReportUsage(ctx); err != nil {
		t.Fatalf("second ReportUsage: %v", err)
	}
	if got := reportedFor(env.gateway.Usage(), sub); got != 7 {
		t.Fatalf("gateway received %d units, want 7", got)
	}
}

func TestReportUsageSkipsAccountsOffMeteredPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res := env.subscribe(t, "switcher@example.com", "metered")
	if err := env.engine.RecordUsage(ctx, res.AccountID, 2); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if _, err := env.engine.UpdatePlan(ctx, res.AccountID, "starter"); err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}

	out, err := env.engine.ReportUsage(ctx)
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	if out.Reported != 1 || out.Closed != 1 || out.Opened != 0 {
		t.Fatalf("result = %+v", out)
	}
	if sum, _ := env.engine.UsageSummary(ctx, res.AccountID); sum.Open != nil {
		t.Fatal("a flat plan should have no open usage period")
	}
}

func TestBillingPeriodAnchorsOnCreationDay(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	cases := []struct {
		anchor, now, start, end time.Time
	}{
		{day(2024, 1, 15), day(2024, 3, 20).Add(5 * time.Hour), day(2024, 3, 15), day(2024, 4, 15)},
		{day(2024, 1, 15), day(2024, 3, 10), day(2024, 2, 15), day(2024, 3, 15)},
		{day(2024, 1, 31), day(2024, 2, 29).Add(time.Hour), day(2024, 2, 29), day(2024, 3, 31)},
		{day(2024, 1, 31), day(2024, 2, 10), day(2024, 1, 31), day(2024, 2, 29)},
		{day(2023, 5, 1), day(2024, 1, 1), day(2024, 1, 1), day(2024, 2, 1)},
	}
	for _, tc := range cases {
		start, end := billingPeriod(tc.anchor, tc.now)
		if !start.Equal(tc.start) || !end.Equal(tc.end) {
			t.Fatalf("billingPeriod(%v, %v) = %v..%v, want %v..%v", tc.anchor, tc.now, start, end, tc.start, tc.end)
		}
	}
}

func TestOnboardingRemindsUnverifiedUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "pending@example.com")
	done := env.signup(t, "done@example.com")

	if err := env.store.UpdateUser(ctx, done.UserID, store.UserUpdate{Verified: boolPtr(true)}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	env.clock.Set(env.clock.Now().Add(24 * time.Hour))
	res, err := env.engine.RunOnboarding(ctx)
	if err != nil {
		t.Fatalf("RunOnboarding: %v", err)
	}
	if res.UnverifiedAccount != 1 {
		t.Fatalf("reminders = %d, want 1", res.UnverifiedAccount)
	}
	n := env.sink.waitFor(t, TemplateUnverifiedAccount)
	if n.To != "pending@example.com" || n.Content["token"] == "" {
		t.Fatalf("reminder = %+v", n)
	}
	if err := env.engine.VerifyEmail(ctx, n.Content["token"]); err != nil {
		t.Fatalf("reminder token rejected: %v", err)
	}
}

func TestOnboardingTrialNotices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	trial := env.subscribe(t, "trialing@example.com", "pro")
	start := env.clock.Now()

	// three days before the 14 day trial ends
	env.clock.Set(start.AddDate(0, 0, 11))
	res, err := env.engine.RunOnboarding(ctx)
	if err != nil {
		t.Fatalf("RunOnboarding: %v", err)
	}
	if res.TrialExpiring != 1 || res.TrialExpired != 0 {
		t.Fatalf("result = %+v", res)
	}
	n := env.sink.waitFor(t, TemplateTrialExpiring)
	if n.To != "trialing@example.com" || n.AccountID != trial.AccountID || n.Content["days"] != "3" {
		t.Fatalf("notice = %+v", n)
	}

	// the trial converted today
	subID := env.account(t, trial.AccountID).StripeSubscriptionID
	sub, _ := env.gateway.Subscription(subID)
	sub.Status = billing.StatusActive
	env.gateway.SetSubscription(sub)
	env.clock.Set(start.AddDate(0, 0, 14))
	res, err = env.engine.RunOnboarding(ctx)
	if err != nil {
		t.Fatalf("RunOnboarding: %v", err)
	}
	if res.TrialExpired != 1 || res.TrialExpiring != 0 {
		t.Fatalf("result = %+v", res)
	}
	env.sink.waitFor(t, TemplateTrialExpired)
}
