package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/billing/billingtest"
	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store/redisstore"
)

const loadtestPlan = "metered"

type loadtestFlags struct {
	accounts    int
	concurrency int
	ops         int
	redisAddr   string
}

type seededAccount struct {
	accountID string
	token     string
	apiKey    string
}

func newLoadtestCmd() *cobra.Command {
	f := &loadtestFlags{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure authorize, API key and usage throughput against Redis",
		Long: "loadtest seeds accounts on a metered plan through a fake billing gateway, " +
			"then times session authorization, API key verification and usage increments. " +
			"Without --redis-addr or REDIS_ADDR it runs against an in-process miniredis.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.accounts <= 0 || f.concurrency <= 0 || f.ops <= 0 {
				return errors.New("accounts, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().IntVar(&f.accounts, "accounts", 200, "number of accounts to seed")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&f.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, f *loadtestFlags) error {
	addr := f.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	cfg := goTenant.DefaultConfig()
	cfg.Token.Secret = "loadtest-secret-loadtest-secret-0"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	cfg.RateLimit.Enabled = false
	cfg.RedisPrefix = "lt"
	cfg.Billing.Plans = []billing.Plan{
		{ID: loadtestPlan, Name: "Metered", Type: billing.Tiered, Price: 5, Currency: "usd", Interval: "month", PriceID: "price_metered"},
	}

	engine, err := goTenant.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStores(redisstore.New(rdb, "lt")).
		WithGateway(billingtest.New()).
		WithNotificationSink(goTenant.NewJSONNotificationSink(io.Discard)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(out, "seeding %d accounts...\n", f.accounts)
	startSeed := time.Now()
	accounts := make([]seededAccount, f.accounts)
	for i := range accounts {
		acct, err := seedAccount(ctx, engine, i)
		if err != nil {
			return err
		}
		accounts[i] = acct
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorize := runPhase(f.ops, f.concurrency, len(accounts), func(idx int) error {
		_, err := engine.AuthorizeUnverified(ctx, accounts[idx].token, permission.User)
		return err
	})
	apiKeys := runPhase(f.ops, f.concurrency, len(accounts), func(idx int) error {
		_, err := engine.VerifyAPIKey(ctx, accounts[idx].apiKey, "usage")
		return err
	})
	usage := runPhase(f.ops, f.concurrency, len(accounts), func(idx int) error {
		return engine.RecordUsage(ctx, accounts[idx].accountID, 1)
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "authorize", authorize)
	printStats(out, "api_key", apiKeys)
	printStats(out, "usage", usage)
	return nil
}

func seedAccount(ctx context.Context, engine *goTenant.Engine, i int) (seededAccount, error) {
	res, err := engine.CreateAccount(ctx, goTenant.Signup{
		Email:    fmt.Sprintf("load-%d@example.com", i),
		Password: "loadtest-password",
		Name:     fmt.Sprintf("Load %d", i),
		IP:       "10.0.0.1",
	})
	if err != nil {
		return seededAccount{}, fmt.Errorf("seed account %d: %w", i, err)
	}
	if _, err := engine.CreatePlan(ctx, res.AccountID, goTenant.PlanRequest{Plan: loadtestPlan, PaymentToken: "tok_visa"}); err != nil {
		return seededAccount{}, fmt.Errorf("seed plan %d: %w", i, err)
	}
	key, err := engine.CreateAPIKey(ctx, res.AccountID, "loadtest", []string{"usage"})
	if err != nil {
		return seededAccount{}, fmt.Errorf("seed key %d: %w", i, err)
	}
	return seededAccount{accountID: res.AccountID, token: res.Token, apiKey: key.Key}, nil
}

func runPhase(ops, concurrency, n int, op func(idx int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r.Intn(n))
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
