package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jasoncpatton/iembot/internal/events"
	"github.com/jasoncpatton/iembot/internal/jid"
)

const (
	smsPrefix    = "sms "
	setSMSPrefix = "set sms#"

	denySMS      = "Sorry, you must be a room admin to send a SMS"
	helpText     = "Hi, I am iembot. Supported commands:\nset sms# 555-555-5555"
	redirectText = "I can't help you here, please chat with me outside of a groupchat.  I have initated such a chat for you."
	smsUpdated   = "Thanks, sms updated to: %s"
	smsNotSaved  = "Sorry, failed to update your sms#"
)

// phoneRE tolerates any separators between the three digit groups and an
// optional trailing extension.
var phoneRE = regexp.MustCompile(`(\d{3})\D*(\d{3})\D*(\d{4})\D*(\d*)`)

// ParsePhone extracts a 10-digit number from free text. It returns the
// digits-only form and the dashed display form.
func ParsePhone(s string) (clean, display string, ok bool) {
	m := phoneRE.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1] + m[2] + m[3], m[1] + "-" + m[2] + "-" + m[3], true
}

// command interprets a private message from a person. The only command is
// "set sms#"; anything else gets the help text.
func (r *Router) command(ctx context.Context, from jid.JID, body string) error {
	text := strings.ToLower(body)
	if !strings.HasPrefix(text, setSMSPrefix) {
		r.incr("help_sent")
		return r.sendDirect(ctx, from.String(), helpText)
	}

	clean, display, ok := ParsePhone(text)
	if !ok {
		r.incr("help_sent")
		return r.sendDirect(ctx, from.String(), helpText)
	}
	r.setPhone(from, clean, display)
	return nil
}

// setPhone stores the number off the event loop and replies when done.
func (r *Router) setPhone(from jid.JID, clean, display string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.opts.StoreTimeout)
		defer cancel()

		reply := fmt.Sprintf(smsUpdated, display)
		if r.book == nil {
			slog.Warn("phone registration requested but no phone book is configured", "user", from.Node)
			reply = smsNotSaved
		} else if err := r.book.SetPhoneNumber(ctx, from.Node, clean); err != nil {
			slog.Error("failed to store phone number", "user", from.Node, "error", err)
			r.incr("phone_failed")
			reply = smsNotSaved
		} else {
			slog.Info("phone number updated", "user", from.Node)
			r.incr("phone_updated")
		}

		sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer sendCancel()
		if err := r.out.Send(sendCtx, events.Outbound{Type: events.TypeChat, To: from.String(), Body: reply}); err != nil {
			slog.Warn("failed to reply to phone registration", "to", from.String(), "error", err)
		}
	}()
}
