// Package roster tracks who is present in each room and with what
// affiliation, driven by presence updates.
//
// Each (room, handle) pair moves through absent -> present -> absent. A
// presence with role "none" is a departure; any other role is an arrival or
// an update. Presence updates that omit the jid, affiliation or role are
// ignored.
package roster

import (
	"sort"
	"sync"
)

type Affiliation string

const (
	AffOwner   Affiliation = "owner"
	AffAdmin   Affiliation = "admin"
	AffMember  Affiliation = "member"
	AffNone    Affiliation = "none"
	AffOutcast Affiliation = "outcast"
)

type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

type Entry struct {
	JID         string      `json:"jid"`
	Affiliation Affiliation `json:"affiliation"`
	Role        Role        `json:"role"`
}

// CanAdminister reports whether the entry may issue privileged room commands.
func (e Entry) CanAdminister() bool {
	return e.Affiliation == AffOwner || e.Affiliation == AffAdmin
}

// Presence is a single membership update. Empty strings mean "not supplied".
type Presence struct {
	Room        string
	Handle      string
	JID         string
	Affiliation string
	Role        string
}

func (p Presence) complete() bool {
	return p.JID != "" && p.Affiliation != "" && p.Role != ""
}

// Transition is the effect an applied presence had on the roster.
type Transition int

const (
	Ignored Transition = iota // partial payload, nothing changed
	Joined                    // absent -> present
	Updated                   // present -> present
	Left                      // present -> absent
	NotPresent                // departure for a handle that was already absent
)

func (t Transition) String() string {
	switch t {
	case Joined:
		return "joined"
	case Updated:
		return "updated"
	case Left:
		return "left"
	case NotPresent:
		return "not_present"
	default:
		return "ignored"
	}
}

type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Entry
}

func New() *Tracker {
	return &Tracker{rooms: make(map[string]map[string]Entry)}
}

// EnsureRoom creates an empty roster for room if none exists.
func (t *Tracker) EnsureRoom(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roomLocked(room)
}

func (t *Tracker) roomLocked(room string) map[string]Entry {
	m, ok := t.rooms[room]
	if !ok {
		m = make(map[string]Entry)
		t.rooms[room] = m
	}
	return m
}

// Apply folds one presence update into the roster.
func (t *Tracker) Apply(p Presence) Transition {
	if !p.complete() {
		return Ignored
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	members := t.roomLocked(p.Room)
	_, present := members[p.Handle]

	if Role(p.Role) == RoleNone {
		if !present {
			return NotPresent
		}
		delete(members, p.Handle)
		return Left
	}

	members[p.Handle] = Entry{
		JID:         p.JID,
		Affiliation: Affiliation(p.Affiliation),
		Role:        Role(p.Role),
	}
	if present {
		return Updated
	}
	return Joined
}

func (t *Tracker) Lookup(room, handle string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.rooms[room][handle]
	return e, ok
}

// ListRoom returns a copy of the room's roster keyed by handle.
func (t *Tracker) ListRoom(room string) map[string]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Entry, len(t.rooms[room]))
	for h, e := range t.rooms[room] {
		out[h] = e
	}
	return out
}

// Member is a roster entry paired with its handle.
type Member struct {
	Handle string `json:"handle"`
	Entry
}

// Members returns the room's roster ordered by handle.
func (t *Tracker) Members(room string) []Member {
	list := t.ListRoom(room)
	out := make([]Member, 0, len(list))
	for h, e := range list {
		out = append(out, Member{Handle: h, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// HasRoom reports whether the room has been referenced.
func (t *Tracker) HasRoom(room string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[room]
	return ok
}
