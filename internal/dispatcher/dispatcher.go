// Package dispatcher feeds inbound events to the router one at a time, in
// arrival order, and supervises the result of each.
//
// Every per-event failure, including a panic, comes back as an error value;
// the dispatcher logs it, forwards it to the fault reporter and moves on to
// the next event.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/jasoncpatton/iembot/internal/events"
)

const overflowSubject = "iembot.system.queue_overflow"

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, e events.Event) error
}

// EventProcessor observes every event before it is handled (used for metrics).
type EventProcessor interface {
	Process(ctx context.Context, e events.Event)
}

// Reporter receives per-event faults. It must not block.
type Reporter interface {
	Report(ctx context.Context, raw []byte, err error)
}

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic while handling event: %v", p.Value)
}

type Dispatcher struct {
	handler   Handler
	metrics   EventProcessor
	reporter  Reporter
	bufferMax int

	mu          sync.Mutex
	queue       []events.Event
	dropped     int64
	natsPublish func(subject string, data []byte) error

	wake chan struct{}
	done chan struct{}
}

type Config struct {
	BufferMax int
}

func New(h Handler, mp EventProcessor, rep Reporter, cfg Config) *Dispatcher {
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = 10000
	}
	return &Dispatcher{
		handler:   h,
		metrics:   mp,
		reporter:  rep,
		bufferMax: cfg.BufferMax,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetNATSPublisher sets the function used to publish system alerts back to NATS.
func (d *Dispatcher) SetNATSPublisher(fn func(subject string, data []byte) error) {
	d.natsPublish = fn
}

// Add enqueues a normalized event. It never blocks.
func (d *Dispatcher) Add(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Backpressure: drop oldest if the queue is full.
	if len(d.queue) >= d.bufferMax {
		dropped := len(d.queue) - d.bufferMax + 1
		d.queue = d.queue[dropped:]
		d.dropped += int64(dropped)
		slog.Warn("queue overflow, dropping oldest events", "dropped", dropped, "queue_max", d.bufferMax)
		d.publishAlert(overflowSubject, []byte(`{"message":"queue overflow, dropping events"}`))
	}
	d.queue = append(d.queue, e)

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the single worker until ctx is cancelled. Events still queued
// at shutdown are processed before Wait returns.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			d.drain(ctx)
			select {
			case <-d.wake:
			case <-ctx.Done():
				d.drain(context.Background())
				return
			}
		}
	}()
}

// Wait blocks until the worker has drained the queue after shutdown.
func (d *Dispatcher) Wait() {
	<-d.done
}

// QueueLen returns the number of events waiting (for health checks).
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Dropped returns how many events were discarded by backpressure.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) next() (events.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return events.Event{}, false
	}
	e := d.queue[0]
	d.queue[0] = events.Event{}
	d.queue = d.queue[1:]
	return e, true
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		e, ok := d.next()
		if !ok {
			return
		}
		d.process(ctx, e)
	}
}

// process handles one event and supervises the outcome.
func (d *Dispatcher) process(ctx context.Context, e events.Event) {
	if d.metrics != nil {
		d.metrics.Process(ctx, e)
	}

	err := d.safeHandle(ctx, e)
	if err == nil {
		return
	}

	slog.Error("failed to handle event", "event_id", e.EventID, "kind", e.Kind, "from", e.From, "error", err)
	if d.reporter != nil {
		d.reporter.Report(ctx, e.Raw, err)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, e events.Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return d.handler.Handle(ctx, e)
}

func (d *Dispatcher) publishAlert(subject string, data []byte) {
	if d.natsPublish != nil {
		if err := d.natsPublish(subject, data); err != nil {
			slog.Error("failed to publish alert", "subject", subject, "error", err)
		}
	}
}
