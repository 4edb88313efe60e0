// Package worker runs the periodic jobs: a cron schedule feeds a durable
// Redis list per job family, and exactly one consumer per family works it.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrQueueUnavailable wraps Redis failures.
var ErrQueueUnavailable = errors.New("worker: queue unavailable")

// Job is one queued run of a family.
type Job struct {
	ID         string    `json:"id"`
	Family     string    `json:"family"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Claim is a job moved to the processing list and not yet acknowledged.
type Claim struct {
	Job
	raw string
}

// Queue is a reliable FIFO: consumers BLMOVE a job into a processing list
// and remove it on ack, so a crash leaves the job recoverable.
type Queue struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewQueue(rdb redis.UniversalClient, prefix string) *Queue {
	if prefix == "" {
		prefix = "gt"
	}
	return &Queue{rdb: rdb, prefix: prefix}
}

func (q *Queue) pendingKey(family string) string    { return q.prefix + ":q:" + family }
func (q *Queue) processingKey(family string) string { return q.prefix + ":q:" + family + ":processing" }

// Only one waiting job per family; a tick that finds one queued is folded in.
var enqueueScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) > 0 then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// Enqueue adds a job for family unless one is already waiting, and reports
// whether it added one.
func (q *Queue) Enqueue(ctx context.Context, family string) (bool, error) {
	data, err := json.Marshal(Job{ID: uuid.NewString(), Family: family, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	n, err := enqueueScript.Run(ctx, q.rdb, []string{q.pendingKey(family)}, data).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return n == 1, nil
}

// Claim waits up to timeout for the oldest job. It returns nil, nil when
// nothing arrived.
func (q *Queue) Claim(ctx context.Context, family string, timeout time.Duration) (*Claim, error) {
	raw, err := q.rdb.BLMove(ctx, q.pendingKey(family), q.processingKey(family), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	c := &Claim{raw: raw}
	if err := json.Unmarshal([]byte(raw), &c.Job); err != nil {
		// Unreadable entries are removed so they cannot wedge the family.
		_ = q.rdb.LRem(ctx, q.processingKey(family), 1, raw).Err()
		return nil, fmt.Errorf("worker: decode job: %w", err)
	}
	return c, nil
}

// Ack removes a finished job from the processing list.
func (q *Queue) Ack(ctx context.Context, family string, c *Claim) error {
	if c == nil {
		return nil
	}
	if err := q.rdb.LRem(ctx, q.processingKey(family), 1, c.raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Recover moves jobs left in processing by a dead consumer back to the head
// of the queue. Call it before the family's consumer starts.
func (q *Queue) Recover(ctx context.Context, family string) (int, error) {
	n := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processingKey(family), q.pendingKey(family), "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		n++
	}
}

// Len returns the waiting and in-flight counts for family.
func (q *Queue) Len(ctx context.Context, family string) (pending, processing int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.pendingKey(family))
	r := pipe.LLen(ctx, q.processingKey(family))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return p.Val(), r.Val(), nil
}
