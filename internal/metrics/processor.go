package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jasoncpatton/iembot/internal/events"
)

// Processor counts inbound events by kind and any named outcome reported
// through Incr. Counters live for the process lifetime.
type Processor struct {
	mu        sync.Mutex
	counters  map[string]int64
	lastEvent time.Time
	started   time.Time
}

func NewProcessor() *Processor {
	return &Processor{
		counters: make(map[string]int64),
		started:  time.Now().UTC(),
	}
}

// Process counts one inbound event.
func (p *Processor) Process(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counters["events_total"]++
	p.counters["events_"+string(e.Kind)]++
	if e.Delayed() {
		p.counters["events_delayed"]++
	}
	if e.ReceivedAt.After(p.lastEvent) {
		p.lastEvent = e.ReceivedAt
	}
}

func (p *Processor) Incr(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[name]++
}

func (p *Processor) Get(name string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

type Snapshot struct {
	Counters    map[string]int64 `json:"counters"`
	LastEventAt *time.Time       `json:"last_event_at,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	UptimeSec   int64            `json:"uptime_sec"`
}

// Snapshot copies the current counters.
func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Counters:  make(map[string]int64, len(p.counters)),
		StartedAt: p.started,
		UptimeSec: int64(time.Since(p.started).Seconds()),
	}
	for k, v := range p.counters {
		s.Counters[k] = v
	}
	if !p.lastEvent.IsZero() {
		last := p.lastEvent
		s.LastEventAt = &last
	}
	return s
}
