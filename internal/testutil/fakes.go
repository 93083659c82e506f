package testutil

import (
	"context"
	"sync"

	"github.com/jasoncpatton/iembot/internal/events"
)

// FakeSender records every outbound message instead of sending it.
type FakeSender struct {
	mu   sync.Mutex
	Sent []events.Outbound
	Err  error
}

func (f *FakeSender) Send(_ context.Context, m events.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, m)
	return nil
}

// Messages returns a copy of everything sent so far.
func (f *FakeSender) Messages() []events.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Outbound(nil), f.Sent...)
}

// To returns the messages addressed to one room or identity.
func (f *FakeSender) To(to string) []events.Outbound {
	var out []events.Outbound
	for _, m := range f.Messages() {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (f *FakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
}

// FakeRelay records SMS relay posts.
type FakeRelay struct {
	mu    sync.Mutex
	Posts []RelayPost
	Err   error
}

type RelayPost struct {
	Numbers []string
	Sender  string
	Message string
}

func (f *FakeRelay) Post(_ context.Context, numbers []string, sender, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Posts = append(f.Posts, RelayPost{Numbers: numbers, Sender: sender, Message: message})
	return f.Err
}

func (f *FakeRelay) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Posts)
}

// FakeReporter records fault reports.
type FakeReporter struct {
	mu      sync.Mutex
	Reports []FaultReport
}

type FaultReport struct {
	Raw []byte
	Err error
}

func (f *FakeReporter) Report(_ context.Context, raw []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reports = append(f.Reports, FaultReport{Raw: raw, Err: err})
}

func (f *FakeReporter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Reports)
}
