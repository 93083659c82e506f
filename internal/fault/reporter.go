// Package fault forwards per-message processing failures to operators.
package fault

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const Subject = "iembot.fault"

// Report is one processing failure, carrying the event that caused it.
type Report struct {
	ID    string    `json:"id"`
	Event string    `json:"event"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Poster delivers a report to a chat channel (Slack).
type Poster interface {
	PostFault(ctx context.Context, id, errMsg string, raw []byte) error
}

// Reporter logs every fault and fans it out to NATS and an optional poster.
// Report never blocks on the poster.
type Reporter struct {
	poster      Poster
	natsPublish func(subject string, data []byte) error
	count       atomic.Int64

	wg sync.WaitGroup
}

func NewReporter(p Poster) *Reporter {
	return &Reporter{poster: p}
}

// SetNATSPublisher sets the function used to publish reports to NATS.
func (r *Reporter) SetNATSPublisher(fn func(subject string, data []byte) error) {
	r.natsPublish = fn
}

func (r *Reporter) Report(_ context.Context, raw []byte, err error) {
	rep := Report{
		ID:    uuid.New().String(),
		Event: string(raw),
		Error: err.Error(),
		Time:  time.Now().UTC(),
	}
	r.count.Add(1)
	slog.Error("message processing fault", "report_id", rep.ID, "error", rep.Error, "event", rep.Event)

	if r.natsPublish != nil {
		data, mErr := json.Marshal(rep)
		if mErr == nil {
			mErr = r.natsPublish(Subject, data)
		}
		if mErr != nil {
			slog.Error("failed to publish fault report", "report_id", rep.ID, "error", mErr)
		}
	}

	if r.poster != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if pErr := r.poster.PostFault(ctx, rep.ID, rep.Error, raw); pErr != nil {
				slog.Error("failed to post fault to Slack", "report_id", rep.ID, "error", pErr)
			}
		}()
	}
}

// Count returns how many faults have been reported.
func (r *Reporter) Count() int64 {
	return r.count.Load()
}

// Wait blocks until in-flight posts have finished.
func (r *Reporter) Wait() {
	r.wg.Wait()
}
