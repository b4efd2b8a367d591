// Package notification fans committed domain events out to sinks on a
// bounded worker pool. Delivery is best effort.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/tontine/internal/events"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 4
	defaultSendTimeout = 10 * time.Second
)

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type Dispatcher struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	sinks   []Sink
	opts    Options

	queue chan queued
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

type queued struct {
	ctx context.Context
	evt events.Event
}

func NewDispatcher(log *zap.Logger, metrics *obsmetrics.Metrics, opts Options, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		log:     log.Named("notification.dispatcher"),
		metrics: metrics,
		sinks:   sinks,
		opts:    opts,
		queue:   make(chan queued, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Dispatch enqueues events without blocking. Events are dropped, logged and
// counted when the queue is full or the dispatcher has stopped.
func (d *Dispatcher) Dispatch(ctx context.Context, evts ...events.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Deliveries outlive the request that committed the event.
	ctx = context.WithoutCancel(ctx)
	for _, evt := range evts {
		if d.closed {
			d.drop(ctx, evt, "stopped")
			continue
		}
		select {
		case d.queue <- queued{ctx: ctx, evt: evt}:
		default:
			d.drop(ctx, evt, "queue_full")
		}
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// Stop closes the queue and waits for queued events to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	p := pool.New().WithMaxGoroutines(d.opts.Workers)
	for item := range d.queue {
		item := item
		p.Go(func() {
			d.deliver(item.ctx, item.evt)
		})
	}
	p.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, evt events.Event) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		err := sink.Send(sendCtx, evt)
		cancel()
		if err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", evt.ID.String()),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err),
			)
			d.metrics.RecordNotificationFailed(ctx, sink.Name(), string(evt.Type))
		}
	}
}

func (d *Dispatcher) drop(ctx context.Context, evt events.Event, reason string) {
	d.log.Warn("notification dropped",
		zap.String("reason", reason),
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", string(evt.Type)),
	)
	d.metrics.RecordNotificationFailed(ctx, "queue", string(evt.Type))
}
