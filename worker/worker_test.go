package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewQueue(rdb, "test")
}

func TestQueueCoalescesWaitingJobs(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	added, err := q.Enqueue(ctx, "usage")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(ctx, "usage")
	require.NoError(t, err)
	assert.False(t, added)

	pending, _, err := q.Len(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestQueueClaimAckRecover(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "usage")
	require.NoError(t, err)
	c, err := q.Claim(ctx, "usage", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "usage", c.Family)

	pending, processing, err := q.Len(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, int64(1), processing)

	n, err := q.Recover(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err = q.Claim(ctx, "usage", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NoError(t, q.Ack(ctx, "usage", c))
	pending, processing, err = q.Len(ctx, "usage")
	require.NoError(t, err)
	assert.Zero(t, pending+processing)
}

func TestRunnerConsumesTriggeredJobs(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	var observed []string
	ran := make(chan string, 4)
	r := NewRunner(q, zerolog.Nop(),
		WithPollTimeout(50*time.Millisecond),
		WithObserver(func(family string, _ time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				observed = append(observed, family+":err")
				return
			}
			observed = append(observed, family)
		}),
	)
	require.NoError(t, r.Register("usage", "@every 1h", func(context.Context) error {
		ran <- "usage"
		return nil
	}))
	require.NoError(t, r.Register("onboarding", "0 9 * * *", func(context.Context) error {
		ran <- "onboarding"
		return errors.New("mailer down")
	}))
	assert.Error(t, r.Register("usage", "@every 1h", nil))
	assert.Error(t, r.Register("bad", "not a spec", nil))

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Trigger(ctx, "usage"))
	require.NoError(t, r.Trigger(ctx, "onboarding"))
	assert.Error(t, r.Trigger(ctx, "unknown"))

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case f := <-ran:
			got[f] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("jobs did not run, got %v", got)
		}
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 2
	}, 2*time.Second, 10*time.Millisecond)
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"usage", "onboarding:err"}, observed)

	for _, f := range []string{"usage", "onboarding"} {
		pending, processing, err := q.Len(ctx, f)
		require.NoError(t, err)
		assert.Zero(t, pending+processing, f)
	}
}

func TestRunnerRecoversInFlightJobsOnStart(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "usage")
	require.NoError(t, err)
	c, err := q.Claim(ctx, "usage", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, c)

	ran := make(chan struct{}, 1)
	r := NewRunner(q, zerolog.Nop(), WithPollTimeout(50*time.Millisecond))
	require.NoError(t, r.Register("usage", "@every 1h", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("recovered job did not run")
	}
}
