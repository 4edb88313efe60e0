package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering.
type Config struct {
	BufferSize int
	// DropIfFull drops instead of waiting when the buffer is full.
	DropIfFull bool
	// SendTimeout bounds one Send call; zero means 10s.
	SendTimeout time.Duration
}

// Dispatcher forwards requests to a sink from a single goroutine.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	log       zerolog.Logger
	ch        chan Request
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	onDrop    func()
}

// NewDispatcher starts the delivery goroutine. onDrop, if set, is called for
// every request dropped on a full buffer.
func NewDispatcher(cfg Config, sink Sink, log zerolog.Logger, onDrop func()) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		log:    log,
		ch:     make(chan Request, cfg.BufferSize),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case req := <-d.ch:
			d.deliver(req)
		case <-d.done:
			for {
				select {
				case req := <-d.ch:
					d.deliver(req)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	if err := d.sink.Send(ctx, req); err != nil {
		d.failed.Add(1)
		d.log.Error().Err(err).Str("template", req.Template).Str("account_id", req.AccountID).Msg("notification delivery failed")
	}
}

// Enqueue queues req. It never returns an error; a closed or full
// dispatcher drops the request.
func (d *Dispatcher) Enqueue(ctx context.Context, req Request) {
	if d == nil || d.closed.Load() {
		return
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if d.cfg.DropIfFull {
		select {
		case d.ch <- req:
		case <-d.done:
		default:
			d.drop(req)
		}
		return
	}
	select {
	case d.ch <- req:
	case <-ctx.Done():
		d.drop(req)
	case <-d.done:
	}
}

func (d *Dispatcher) drop(req Request) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop()
	}
	d.log.Warn().Str("template", req.Template).Msg("notification dropped")
}

// Close drains queued requests and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
