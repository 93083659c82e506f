// Package router classifies inbound chat traffic and carries out its side
// effects: logging groupchat history, in-room commands, the public mirror,
// private-message commands and fan-out of ingest bulletins.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jasoncpatton/iembot/internal/chatlog"
	"github.com/jasoncpatton/iembot/internal/events"
	"github.com/jasoncpatton/iembot/internal/jid"
	"github.com/jasoncpatton/iembot/internal/roster"
	"github.com/jasoncpatton/iembot/internal/routing"
	"github.com/jasoncpatton/iembot/internal/sms"
	"github.com/jasoncpatton/iembot/internal/store"
)

// ErrMalformed marks input that cannot be processed. It is handled locally
// and never reported as a fault.
var ErrMalformed = errors.New("malformed message")

// minIngestLen is the length of an office code.
const minIngestLen = 3

// Sender delivers outbound chat messages.
type Sender interface {
	Send(ctx context.Context, m events.Outbound) error
}

// Notifier starts an SMS delivery without blocking the caller.
type Notifier interface {
	Notify(room, text, sender string)
}

// Recorder counts named outcomes.
type Recorder interface {
	Incr(name string)
}

type Options struct {
	BotNick        string        // the bot's own handle in rooms
	MUCDomain      string        // e.g. conference.weather.im
	IngestIdentity string        // bare identity whose private messages are bulletins
	StoreTimeout   time.Duration // bound on phone book writes
}

type Router struct {
	log    *chatlog.Log
	roster *roster.Tracker
	routes *routing.Table
	out    Sender
	smsgw  Notifier
	book   store.PhoneBook
	opts   Options
	rec    Recorder

	wg sync.WaitGroup
}

// New wires a router. notifier and book may be nil, which disables SMS commands
// and phone registration.
func New(log *chatlog.Log, rt *roster.Tracker, routes *routing.Table, out Sender, notifier Notifier, book store.PhoneBook, opts Options) *Router {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	opts.MUCDomain = jid.Parse(opts.MUCDomain).Domain
	opts.IngestIdentity = jid.Parse(opts.IngestIdentity).Bare()
	return &Router{
		log:    log,
		roster: rt,
		routes: routes,
		out:    out,
		smsgw:  notifier,
		book:   book,
		opts:   opts,
	}
}

// SetRecorder registers a counter for routing outcomes.
func (r *Router) SetRecorder(rec Recorder) {
	r.rec = rec
}

func (r *Router) incr(name string) {
	if r.rec != nil {
		r.rec.Incr(name)
	}
}

// Wait blocks until background phone book writes have replied.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Handle routes one inbound event. Malformed input is dropped with a log
// line; any other returned error is a fault in processing this event only.
func (r *Router) Handle(ctx context.Context, e events.Event) error {
	var err error
	switch e.Kind {
	case events.KindPresence:
		r.HandlePresence(e)
		return nil
	case events.KindGroupchat:
		if e.Body == "" {
			return nil
		}
		from := jid.Parse(e.From)
		err = r.HandleGroupchat(ctx, from.Node, from.Resource, e)
	case events.KindChat:
		if e.Body == "" {
			return nil
		}
		err = r.HandlePrivate(ctx, e)
	case events.KindIngest:
		if e.Body == "" {
			return nil
		}
		err = r.HandleIngest(ctx, e)
	default:
		return fmt.Errorf("%w: %q", events.ErrUnknownKind, e.Kind)
	}

	if errors.Is(err, ErrMalformed) {
		slog.Warn("dropping malformed message", "event_id", e.EventID, "from", e.From, "error", err)
		r.incr("malformed")
		return nil
	}
	return err
}

// HandlePresence applies a membership update to the roster.
func (r *Router) HandlePresence(e events.Event) roster.Transition {
	tr := r.roster.Apply(roster.Presence{
		Room:        e.Room,
		Handle:      e.Handle,
		JID:         e.JID,
		Affiliation: e.Affiliation,
		Role:        e.Role,
	})
	slog.Debug("presence", "room", e.Room, "handle", e.Handle, "role", e.Role, "transition", tr.String())
	r.incr("presence_" + tr.String())
	return tr
}

// HandleGroupchat logs the message and, unless it is a historical replay,
// runs in-room commands and the public mirror. Every matching rule fires.
func (r *Router) HandleGroupchat(ctx context.Context, room, handle string, e events.Event) error {
	logged := e.Body
	if e.HTML != "" {
		logged = e.HTML
	}
	stamp, _ := e.DelayTime()
	seq := r.log.Append(room, chatlog.Message{
		Author:    handle,
		Body:      logged,
		ProductID: e.ProductID,
		Stamp:     stamp,
	})
	r.incr("groupchat_logged")

	if e.Delayed() {
		slog.Debug("logged delayed message", "room", room, "seqnum", seq, "delay", e.Delay)
		return nil
	}
	if handle == "" {
		handle = chatlog.UnknownAuthor
	}

	body := e.Body
	var errs []error

	if strings.HasPrefix(body, smsPrefix) && len(body) >= len(smsPrefix)+1 {
		errs = append(errs, r.smsCommand(ctx, room, handle, body[len(smsPrefix):]))
	}
	if strings.HasPrefix(body, "users") {
		errs = append(errs, r.sendRoom(ctx, room, r.usersReply(room)))
	}
	if strings.HasPrefix(body, "ping") {
		errs = append(errs, r.sendRoom(ctx, room, handle+": pong"))
	}

	snap := r.routes.Current()
	if handle != r.opts.BotNick && !snap.Exempt(room) {
		mirror := snap.MirrorRoom()
		if mirror != "" {
			r.incr("mirrored")
			errs = append(errs, r.sendRoom(ctx, mirror, fmt.Sprintf("[%s] %s: %s", room, handle, body)))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) smsCommand(ctx context.Context, room, handle, text string) error {
	entry, ok := r.roster.Lookup(room, handle)
	if !ok || !entry.CanAdminister() {
		slog.Info("sms denied", "room", room, "handle", handle)
		r.incr("sms_denied")
		return r.sendRoom(ctx, room, handle+": "+denySMS)
	}
	if r.smsgw == nil {
		slog.Warn("sms requested but no gateway is configured", "room", room)
		return r.sendRoom(ctx, room, sms.AckFailed)
	}
	r.incr("sms_requested")
	r.smsgw.Notify(room, text, entry.JID)
	return nil
}

func (r *Router) usersReply(room string) string {
	var b strings.Builder
	b.WriteString("JIDs in room: ")
	for _, m := range r.roster.Members(room) {
		fmt.Fprintf(&b, "%s (%s), ", m.Handle, m.JID)
	}
	return b.String()
}

// HandlePrivate answers a one-to-one message. Private messages sent through
// a room are redirected, bulletins from the ingest identity are routed and
// everything else goes to the command interpreter.
func (r *Router) HandlePrivate(ctx context.Context, e events.Event) error {
	from := jid.Parse(e.From)

	if from.Domain == r.opts.MUCDomain {
		return r.redirectFromRoom(ctx, from)
	}
	if from.Bare() == r.opts.IngestIdentity {
		return r.HandleIngest(ctx, e)
	}
	return r.command(ctx, from, e.Body)
}

func (r *Router) redirectFromRoom(ctx context.Context, from jid.JID) error {
	entry, ok := r.roster.Lookup(from.Node, from.Resource)
	if !ok {
		slog.Info("private message through room from unknown handle", "room", from.Node, "handle", from.Resource)
		return nil
	}
	r.incr("private_redirected")
	return errors.Join(
		r.sendDirect(ctx, entry.JID, helpText),
		r.sendDirect(ctx, from.String(), redirectText),
	)
}

// HandleIngest fans a bulletin out to its office rooms. The first three
// characters of the body are the office code.
func (r *Router) HandleIngest(ctx context.Context, e events.Event) error {
	if len(e.Body) < minIngestLen {
		return fmt.Errorf("%w: ingest body %q shorter than an office code", ErrMalformed, e.Body)
	}
	code := e.Body[:minIngestLen]
	if !officeCode(code) {
		return fmt.Errorf("%w: office code %q is not three letters", ErrMalformed, code)
	}

	snap := r.routes.Current()
	dests := snap.Route(code)
	clipped := snap.Clip(e.Body)

	var errs []error
	for _, d := range dests {
		body := e.Body
		if d.Clipped {
			body = clipped
		}
		err := r.out.Send(ctx, events.Outbound{
			Type:      events.TypeGroupchat,
			To:        d.Room,
			Body:      body,
			HTML:      e.HTML,
			ProductID: e.ProductID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", d.Room, err))
		}
	}
	slog.Info("routed bulletin", "office", strings.ToUpper(code), "destinations", len(dests), "product_id", e.ProductID)
	r.incr("ingest_routed")
	return errors.Join(errs...)
}

func officeCode(code string) bool {
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

func (r *Router) sendRoom(ctx context.Context, room, body string) error {
	if err := r.out.Send(ctx, events.Outbound{Type: events.TypeGroupchat, To: room, Body: body}); err != nil {
		return fmt.Errorf("send to %s: %w", room, err)
	}
	return nil
}

func (r *Router) sendDirect(ctx context.Context, to, body string) error {
	if err := r.out.Send(ctx, events.Outbound{Type: events.TypeChat, To: to, Body: body}); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}
