package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jasoncpatton/iembot/internal/jid"
)

type Kind string

const (
	KindPresence  Kind = "presence"
	KindGroupchat Kind = "groupchat"
	KindChat      Kind = "chat"
	KindIngest    Kind = "ingest"
)

// Event is one inbound delivery from the chat transport adapter.
type Event struct {
	EventID    string    `json:"event_id"`
	Kind       Kind      `json:"kind"`
	From       string    `json:"from"`
	Body       string    `json:"body,omitempty"`
	HTML       string    `json:"html,omitempty"`
	ProductID  string    `json:"product_id,omitempty"`
	Delay      string    `json:"delay,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	// Presence fields. Empty means the transport did not supply the value.
	Room        string `json:"room,omitempty"`
	Handle      string `json:"handle,omitempty"`
	JID         string `json:"jid,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Role        string `json:"role,omitempty"`

	// Raw is the payload as received, kept for fault reports.
	Raw json.RawMessage `json:"-"`
}

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrBadDelay    = errors.New("unparseable delay stamp")
)

// Normalize decodes a transport payload and fills in defaults. Message
// events with no kind are private chats, matching the chat protocol's
// default message type.
func Normalize(raw []byte) (Event, error) {
	return NormalizeAs(raw, KindChat)
}

// NormalizeAs is Normalize with a caller-chosen kind for payloads that
// carry none, e.g. one inferred from the delivery subject.
func NormalizeAs(raw []byte, fallback Kind) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	e.Raw = append(json.RawMessage(nil), raw...)

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	if e.Kind == "" {
		e.Kind = fallback
	}

	switch e.Kind {
	case KindPresence:
		if e.Room == "" || e.Handle == "" {
			from := jid.Parse(e.From)
			if e.Room == "" {
				e.Room = from.Node
			}
			if e.Handle == "" {
				e.Handle = from.Resource
			}
		}
	case KindGroupchat, KindChat, KindIngest:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	if e.Delay != "" {
		if _, err := ParseDelay(e.Delay); err != nil {
			slog.Warn("event carries an unparseable delay stamp", "event_id", e.EventID, "delay", e.Delay)
		}
	}
	return e, nil
}

// Delayed reports whether the message is a historical replay.
func (e *Event) Delayed() bool {
	return e.Delay != ""
}

// DelayTime parses the delay stamp. ok is false when there is no stamp or
// it cannot be parsed.
func (e *Event) DelayTime() (t time.Time, ok bool) {
	if e.Delay == "" {
		return time.Time{}, false
	}
	t, err := ParseDelay(e.Delay)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var delayLayouts = []string{
	time.RFC3339Nano,
	"20060102T15:04:05",
}

// ParseDelay accepts RFC 3339 stamps and the legacy 20060102T15:04:05 form.
func ParseDelay(s string) (time.Time, error) {
	for _, layout := range delayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDelay, s)
}

// Outbound message types.
const (
	TypeGroupchat = "groupchat"
	TypeChat      = "chat"
	TypeJoin      = "join"
)

// Outbound is a request for the transport adapter to send something.
type Outbound struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	Body      string `json:"body,omitempty"`
	HTML      string `json:"html,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}
