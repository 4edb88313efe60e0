package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Handler runs one job. A returned error is logged; the job is still
// acknowledged since the next tick runs the family again.
type Handler func(ctx context.Context) error

// Observer is told how each job run went.
type Observer func(family string, elapsed time.Duration, err error)

type family struct {
	name    string
	spec    string
	handler Handler
}

// Runner owns the cron schedule and one consumer goroutine per family.
type Runner struct {
	queue    *Queue
	cron     *cron.Cron
	log      zerolog.Logger
	observe  Observer
	poll     time.Duration
	families map[string]*family

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver installs a per-run callback (metrics).
func WithObserver(o Observer) Option { return func(r *Runner) { r.observe = o } }

// WithPollTimeout sets how long a consumer blocks waiting for a job.
func WithPollTimeout(d time.Duration) Option { return func(r *Runner) { r.poll = d } }

// WithLocation sets the time zone cron specs are read in (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) { r.cron = newCron(loc, r.log) }
}

func NewRunner(q *Queue, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		queue:    q,
		log:      log,
		poll:     time.Second,
		families: make(map[string]*family),
	}
	r.cron = newCron(time.UTC, log)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newCron(loc *time.Location, log zerolog.Logger) *cron.Cron {
	l := cronLogger{log: log}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// Register schedules family on spec (standard 5-field cron or @every).
func (r *Runner) Register(name, spec string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("worker: register after start")
	}
	if _, dup := r.families[name]; dup {
		return fmt.Errorf("worker: family %q already registered", name)
	}
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := r.queue.Enqueue(ctx, name); err != nil {
			r.log.Error().Err(err).Str("family", name).Msg("enqueue scheduled job")
		}
	})
	if err != nil {
		return fmt.Errorf("worker: schedule %q: %w", name, err)
	}
	r.families[name] = &family{name: name, spec: spec, handler: h}
	return nil
}

// Trigger queues a run of family now.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	if _, ok := r.families[name]; !ok {
		return fmt.Errorf("worker: unknown family %q", name)
	}
	_, err := r.queue.Enqueue(ctx, name)
	return err
}

// Start requeues jobs a previous process left in flight, then starts the
// schedule and the consumers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("worker: already started")
	}
	for name := range r.families {
		n, err := r.queue.Recover(ctx, name)
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.Info().Str("family", name).Int("jobs", n).Msg("requeued in-flight jobs")
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for _, f := range r.families {
		r.wg.Add(1)
		go r.consume(runCtx, f)
	}
	r.cron.Start()
	r.started = true
	return nil
}

// Stop halts the schedule and waits for in-progress jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	cancel()
	r.wg.Wait()
}

func (r *Runner) consume(ctx context.Context, f *family) {
	defer r.wg.Done()
	log := r.log.With().Str("family", f.name).Logger()
	for ctx.Err() == nil {
		claim, err := r.queue.Claim(ctx, f.name, r.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("claim job")
			select {
			case <-time.After(r.poll):
			case <-ctx.Done():
				return
			}
			continue
		}
		if claim == nil {
			continue
		}
		r.run(ctx, f, claim, log)
	}
}

func (r *Runner) run(ctx context.Context, f *family, c *Claim, log zerolog.Logger) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("worker: job panicked: %v", p)
			}
		}()
		return f.handler(ctx)
	}()
	elapsed := time.Since(start)
	interrupted := err != nil && ctx.Err() != nil
	if err != nil {
		log.Error().Err(err).Str("job_id", c.ID).Dur("elapsed", elapsed).Msg("job failed")
	} else {
		log.Info().Str("job_id", c.ID).Dur("elapsed", elapsed).Msg("job finished")
	}
	if r.observe != nil {
		r.observe(f.name, elapsed, err)
	}
	if interrupted {
		// Left in processing for Recover on the next start.
		return
	}
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.queue.Ack(ackCtx, f.name, c); err != nil {
		log.Error().Err(err).Str("job_id", c.ID).Msg("ack job")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
