// Package ingester is the transport adapter between the chat connection and
// the core. Inbound stanzas arrive as JSON on a JetStream stream; outbound
// requests are published on plain NATS subjects for the XMPP client to send.
package ingester

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jasoncpatton/iembot/internal/dispatcher"
	"github.com/jasoncpatton/iembot/internal/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	inboundStream   = "IEMBOT_INBOUND"
	inboundSubjects = "iembot.in.>"
	inboundPrefix   = "iembot.in."
	consumerName    = "iembot-core"

	SubjectGroupchat = "iembot.out.groupchat"
	SubjectDirect    = "iembot.out.direct"
	SubjectJoin      = "iembot.out.join"
)

type Ingester struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	dispatcher *dispatcher.Dispatcher
	sub        jetstream.ConsumeContext
	mucDomain  string
	publish    func(subject string, data []byte) error

	mu      sync.RWMutex
	stopped bool
}

func New(natsURL, mucDomain string) (*Ingester, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &Ingester{
		nc:        nc,
		js:        js,
		mucDomain: mucDomain,
		publish:   nc.Publish,
	}, nil
}

// Start binds to the durable inbound consumer and feeds d. A single
// consumer keeps delivery in stream order.
func (ing *Ingester) Start(d *dispatcher.Dispatcher) error {
	ctx := context.Background()

	ing.dispatcher = d
	// Give the dispatcher a way to publish alerts back to NATS.
	d.SetNATSPublisher(ing.Publish)

	if err := ing.ensureStream(ctx, inboundStream, []string{inboundSubjects}); err != nil {
		return err
	}
	if err := ing.subscribe(ctx, inboundStream, consumerName); err != nil {
		return fmt.Errorf("subscribe to %s: %w", inboundStream, err)
	}

	slog.Info("subscribed to stream", "stream", inboundStream, "consumer", consumerName)
	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context, name string, subjects []string) error {
	_, err := ing.js.Stream(ctx, name)
	if err == nil {
		return nil
	}

	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}

	slog.Info("created stream", "name", name, "subjects", subjects)
	return nil
}

func (ing *Ingester) subscribe(ctx context.Context, stream, name string) error {
	consumer, err := ing.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", name, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ing.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", name, err)
	}

	ing.sub = cc
	return nil
}

// kindFromSubject reads the event kind from iembot.in.<kind> when the
// payload does not name one.
func kindFromSubject(subject string) events.Kind {
	rest, ok := strings.CutPrefix(subject, inboundPrefix)
	if !ok || rest == "" {
		return events.KindChat
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	return events.Kind(rest)
}

func (ing *Ingester) handleMessage(msg jetstream.Msg) {
	e, err := events.NormalizeAs(msg.Data(), kindFromSubject(msg.Subject()))
	if err != nil {
		slog.Warn("malformed event, skipping",
			"subject", msg.Subject(),
			"error", err,
		)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	ing.mu.RLock()
	if ing.stopped {
		ing.mu.RUnlock()
		// Leave it for the next consumer instance.
		_ = msg.Nak()
		return
	}
	ing.dispatcher.Add(e)
	ing.mu.RUnlock()

	// Ack once queued. A crash before the event is handled loses it; history
	// replays from the chat server cover the room logs.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// roomAddress expands a bare room name to its multi-user-chat address.
func (ing *Ingester) roomAddress(room string) string {
	if strings.Contains(room, "@") {
		return room
	}
	return room + "@" + ing.mucDomain
}

// Send publishes an outbound message for the chat client.
func (ing *Ingester) Send(ctx context.Context, m events.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var subject string
	switch m.Type {
	case events.TypeGroupchat:
		subject = SubjectGroupchat
		m.To = ing.roomAddress(m.To)
	case events.TypeChat:
		subject = SubjectDirect
	case events.TypeJoin:
		subject = SubjectJoin
		m.To = ing.roomAddress(m.To)
	default:
		return fmt.Errorf("unknown outbound type %q", m.Type)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	if err := ing.publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Join asks the chat client to enter each room under nick.
func (ing *Ingester) Join(ctx context.Context, rooms []string, nick string) error {
	for _, room := range rooms {
		err := ing.Send(ctx, events.Outbound{
			Type: events.TypeJoin,
			To:   ing.roomAddress(room) + "/" + nick,
		})
		if err != nil {
			return fmt.Errorf("join %s: %w", room, err)
		}
	}
	slog.Info("requested room joins", "rooms", len(rooms), "nick", nick)
	return nil
}

// Publish sends a message to NATS (used for alerts and fault reports).
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.publish(subject, data)
}

// Stop ends consumption. Once it returns no further events reach the
// dispatcher, so a worker drained afterwards has seen every acked event.
func (ing *Ingester) Stop() {
	if ing.sub != nil {
		ing.sub.Stop()
	}
	ing.mu.Lock()
	ing.stopped = true
	ing.mu.Unlock()
}

// Close stops consuming and drains the NATS connection.
func (ing *Ingester) Close() {
	ing.Stop()
	if ing.nc != nil {
		ing.nc.Drain()
	}
}
