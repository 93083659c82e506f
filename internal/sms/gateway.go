// Package sms notifies a room's subscriber group by text message.
//
// Lookups and relay posts run off the caller's goroutine under a bounded
// timeout. A timeout counts as a failure and is never retried; a room admin
// resending the command is the recovery path.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jasoncpatton/iembot/internal/events"
	"github.com/jasoncpatton/iembot/internal/store"
)

const (
	AckSent   = "Sent SMS"
	AckFailed = "SMS Send Failure, Sorry"
)

// Sender delivers outbound chat messages.
type Sender interface {
	Send(ctx context.Context, m events.Outbound) error
}

// Recorder counts named outcomes.
type Recorder interface {
	Incr(name string)
}

type Outcome int

const (
	NoSubscribers Outcome = iota
	Sent
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sms_sent"
	case Failed:
		return "sms_failed"
	default:
		return "sms_no_subscribers"
	}
}

type Gateway struct {
	book    store.PhoneBook
	relay   Relay
	out     Sender
	timeout time.Duration
	rec     Recorder

	wg sync.WaitGroup
}

func NewGateway(book store.PhoneBook, relay Relay, out Sender, timeout time.Duration) *Gateway {
	return &Gateway{book: book, relay: relay, out: out, timeout: timeout}
}

// SetRecorder registers a counter for delivery outcomes.
func (g *Gateway) SetRecorder(r Recorder) {
	g.rec = r
}

// GroupKey derives the subscriber group name from a room name: the first
// three letters, lowercased, plus "group" (dmxchat -> dmxgroup).
func GroupKey(room string) string {
	prefix := room
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return strings.ToLower(prefix) + "group"
}

// Notify starts a delivery in the background and returns immediately.
func (g *Gateway) Notify(room, text, sender string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.Deliver(context.Background(), room, text, sender)
	}()
}

// Wait blocks until every background delivery has finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// Deliver resolves the room's subscribers, posts one relay request and
// acknowledges the result in the room. An empty subscriber group is silent.
func (g *Gateway) Deliver(ctx context.Context, room, text, sender string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	outcome, err := g.deliver(ctx, room, text, sender)
	if g.rec != nil {
		g.rec.Incr(outcome.String())
	}

	switch outcome {
	case NoSubscribers:
		slog.Info("no sms subscribers for room", "room", room, "group", GroupKey(room))
		return outcome
	case Failed:
		slog.Error("sms delivery failed", "room", room, "sender", sender, "error", err)
		g.ack(room, AckFailed)
	case Sent:
		slog.Info("sms delivered", "room", room, "sender", sender)
		g.ack(room, AckSent)
	}
	return outcome
}

func (g *Gateway) deliver(ctx context.Context, room, text, sender string) (Outcome, error) {
	subs, err := g.book.LookupPhoneNumbers(ctx, GroupKey(room))
	if err != nil {
		return Failed, fmt.Errorf("lookup subscribers: %w", err)
	}
	if len(subs) == 0 {
		return NoSubscribers, nil
	}

	numbers := make([]string, len(subs))
	for i, s := range subs {
		numbers[i] = s.Number
	}
	slog.Info("sending sms", "room", room, "numbers", strings.Join(numbers, ","))

	if err := g.relay.Post(ctx, numbers, sender, text); err != nil {
		return Failed, err
	}
	return Sent, nil
}

func (g *Gateway) ack(room, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.out.Send(ctx, events.Outbound{Type: events.TypeGroupchat, To: room, Body: body}); err != nil {
		slog.Warn("failed to acknowledge sms result", "room", room, "error", err)
	}
}
