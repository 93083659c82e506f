// Package chatlog keeps a bounded window of recent messages per room.
//
// Every logged message receives a sequence number from one process-wide
// counter, so numbers are globally ordered even though each room only
// retains its own subsequence. Readers always receive copies; a reader never
// observes a half-written entry.
package chatlog

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Capacity is the number of entries retained per room.
const Capacity = 40

// UnknownAuthor is recorded when a message carries no sender handle.
const UnknownAuthor = "---"

type Entry struct {
	Seqnum    int64  `json:"seqnum"`
	Ticks     int64  `json:"ticks"` // hundredths of a second since the Unix epoch
	Author    string `json:"author"`
	Log       string `json:"log"`
	ProductID string `json:"product_id,omitempty"`
}

// Time converts Ticks back to a UTC time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Ticks * 10).UTC()
}

// Message is the input to Append. A zero Stamp means "now".
type Message struct {
	Author    string
	Body      string
	ProductID string
	Stamp     time.Time
}

type roomLog struct {
	mu    sync.RWMutex
	buf   [Capacity]Entry
	start int
	n     int
}

// push writes e into the ring, evicting the oldest entry once full.
func (r *roomLog) push(e Entry) {
	if r.n < Capacity {
		r.buf[(r.start+r.n)%Capacity] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % Capacity
}

// at returns the i-th oldest retained entry.
func (r *roomLog) at(i int) Entry {
	return r.buf[(r.start+i)%Capacity]
}

type Log struct {
	seq   atomic.Int64
	mu    sync.RWMutex
	rooms map[string]*roomLog
	now   func() time.Time
}

// New creates an empty log whose first sequence number is origin+1.
func New(origin int64) *Log {
	l := &Log{
		rooms: make(map[string]*roomLog),
		now:   time.Now,
	}
	l.seq.Store(origin)
	return l
}

// SetClock replaces the time source used for undated messages.
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Log) room(name string, create bool) *roomLog {
	l.mu.RLock()
	r := l.rooms[name]
	l.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r = l.rooms[name]; r == nil {
		r = &roomLog{}
		l.rooms[name] = r
	}
	return r
}

// Append records m in the room's window and returns its sequence number.
// The room is created on first use.
func (l *Log) Append(room string, m Message) int64 {
	stamp := m.Stamp
	if stamp.IsZero() {
		stamp = l.now()
	}
	author := m.Author
	if author == "" {
		author = UnknownAuthor
	}

	r := l.room(room, true)
	r.mu.Lock()
	defer r.mu.Unlock()

	// Allocated under the room lock so a room's entries stay in seqnum order.
	seq := l.seq.Add(1)
	r.push(Entry{
		Seqnum:    seq,
		Ticks:     stamp.UnixMilli() / 10,
		Author:    author,
		Log:       m.Body,
		ProductID: m.ProductID,
	})
	return seq
}

// RecentSince returns the entries with a seqnum greater than after, oldest first.
func (l *Log) RecentSince(room string, after int64) []Entry {
	r := l.room(room, false)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for i := 0; i < r.n; i++ {
		if e := r.at(i); e.Seqnum > after {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns every retained entry, newest first.
func (l *Log) Snapshot(room string) []Entry {
	r := l.room(room, false)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.n)
	for i := r.n - 1; i >= 0; i-- {
		out = append(out, r.at(i))
	}
	return out
}

// Latest returns the newest seqnum retained for room.
func (l *Log) Latest(room string) (int64, bool) {
	r := l.room(room, false)
	if r == nil {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.n == 0 {
		return 0, false
	}
	return r.at(r.n - 1).Seqnum, true
}

// Has reports whether room has ever received a message.
func (l *Log) Has(room string) bool {
	return l.room(room, false) != nil
}

// Rooms lists every room with a log, sorted by name.
func (l *Log) Rooms() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.rooms))
	for name := range l.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seqnum returns the most recently allocated sequence number.
func (l *Log) Seqnum() int64 {
	return l.seq.Load()
}
