// Package events delivers committed marketplace events to downstream sinks.
//
// The engine emits while holding its lock, so Emit only enqueues. A single
// worker drains the queue in order and hands each event to every sink.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

// Sink receives events. Deliver must be safe to call from the worker goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev marketplace.Event) error
}

// FailureRecorder counts failed deliveries per sink.
type FailureRecorder interface {
	RecordEventFailure(sink string)
}

var _ marketplace.EventSink = (*Dispatcher)(nil)

type Dispatcher struct {
	sinks    []Sink
	queue    chan marketplace.Event
	logger   *zap.SugaredLogger
	recorder FailureRecorder
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan marketplace.Event, n)
		}
	}
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithDeliveryTimeout bounds each sink call.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func NewDispatcher(logger *zap.SugaredLogger, sinks []Sink, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan marketplace.Event, 1024),
		logger:  logger,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Emit queues ev for delivery. It never blocks.
func (d *Dispatcher) Emit(_ context.Context, ev marketplace.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.recordFailure("queue")
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev marketplace.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Deliver(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warnw("Event delivery failed",
				"sink", sink.Name(),
				"type", ev.Type,
				"id", ev.ID,
				"error", err,
			)
			d.recordFailure(sink.Name())
		}
	}
}

func (d *Dispatcher) recordFailure(sink string) {
	if d.recorder != nil {
		d.recorder.RecordEventFailure(sink)
	}
}

// Close stops accepting events and waits until queued ones are delivered or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
