package uploader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/holisticode/exec-tracer/metrics"
)

const (
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultRetryInterval   = 250 * time.Millisecond
)

type Config struct {
	HighCapacity int
	LowCapacity  int
	// DeliveryTimeout bounds a single Deliver call.
	DeliveryTimeout time.Duration
	// MaxRetries is the number of extra attempts after a failed delivery.
	MaxRetries    uint64
	RetryInterval time.Duration
}

// Dispatcher drains the queue on its own goroutine, high tier first.
type Dispatcher struct {
	queue *Queue
	sink  Sink
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	// deliveries outlive the loop so that a draining Stop does not abort the
	// item in flight
	cancelDeliver context.CancelFunc
}

func NewDispatcher(queue *Queue, sink Sink, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Dispatcher{
		queue: queue,
		sink:  sink,
		cfg:   cfg,
		log:   log,
	}
}

// Start launches the delivery loop. It returns immediately; calling it twice
// is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil || d.stopped {
		return
	}
	var deliverCtx context.Context
	deliverCtx, d.cancelDeliver = context.WithCancel(context.WithoutCancel(ctx))
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx, deliverCtx)
}

func (d *Dispatcher) run(ctx, deliverCtx context.Context) {
	defer close(d.done)
	d.log.Info("upload dispatcher started")
	for {
		// once cancelled the backlog belongs to Stop
		if ctx.Err() != nil {
			d.log.Info("upload dispatcher stopped")
			return
		}

		// drain everything pending in the high tier before looking at the low one
		select {
		case item := <-d.queue.high.ch:
			d.deliver(deliverCtx, item)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			d.log.Info("upload dispatcher stopped")
			return
		case item := <-d.queue.high.ch:
			d.deliver(deliverCtx, item)
		case item := <-d.queue.low.ch:
			d.deliver(deliverCtx, item)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item Item) {
	t := d.queue.tier(item.Priority)
	attempt := 0
	op := func() error {
		attempt++
		dctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
		err := d.sink.Deliver(dctx, item)
		if errors.Is(err, ErrUnsupportedItem) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, d.cfg.MaxRetries), ctx))
	if err != nil {
		// a lost delivery is accounted exactly like a dropped enqueue
		t.failed.Inc()
		t.drop(ctx)
		metrics.QueueFailed(ctx, t.name)
		d.log.Warn("failed to deliver item",
			"id", item.ID,
			"kind", item.Kind,
			"block", item.BlockIndex,
			"tier", t.name,
			"attempts", attempt,
			"err", err)
		return
	}
	t.delivered.Inc()
	metrics.QueueDelivered(ctx, t.name)
	d.log.Debug("delivered item", "id", item.ID, "kind", item.Kind, "block", item.BlockIndex, "tier", t.name)
}

// Stop ends the delivery loop. With drain set the item in flight is allowed to
// finish and the remaining items are delivered (high tier first) until ctx
// expires. Otherwise the item in flight is cancelled and the rest discarded and
// counted as dropped. Stop never waits past ctx.
func (d *Dispatcher) Stop(ctx context.Context, drain bool) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	done := d.done
	cancelDeliver := d.cancelDeliver
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	if cancelDeliver != nil {
		defer cancelDeliver()
		if !drain {
			cancelDeliver()
		}
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if drain {
		return d.flush(ctx)
	}
	d.discard()
	return nil
}

func (d *Dispatcher) flush(ctx context.Context) error {
	for _, t := range []*tier{d.queue.high, d.queue.low} {
		for {
			if err := ctx.Err(); err != nil {
				d.discard()
				return err
			}
			select {
			case item := <-t.ch:
				d.deliver(ctx, item)
				continue
			default:
			}
			break
		}
	}
	return nil
}

func (d *Dispatcher) discard() {
	discarded := 0
	for _, t := range []*tier{d.queue.high, d.queue.low} {
		for {
			select {
			case <-t.ch:
				t.drop(context.Background())
				discarded++
				continue
			default:
			}
			break
		}
	}
	if discarded > 0 {
		d.log.Warn("discarded pending items on shutdown", "count", discarded)
	}
}
