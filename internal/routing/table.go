// Package routing maps ingest office codes to destination rooms.
//
// The policy is data: a fixed per-office room, a broadcast room that gets
// every bulletin untouched, and a list of tagged extra rules keyed by exact
// office code. The table can be reloaded at any time; each routing decision
// works against the snapshot it started with.
package routing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

const officePlaceholder = "{office}"

// Rule delivers an ingest bulletin to extra rooms for the listed offices.
type Rule struct {
	Name    string   `yaml:"name"`
	Offices []string `yaml:"offices"`
	Rooms   []string `yaml:"rooms"`
}

// Rooms is the directory of rooms the bot joins.
type Rooms struct {
	CWSU    []string `yaml:"cwsu"`
	Private []string `yaml:"private"`
	Public  []string `yaml:"public"`
	WFO     []string `yaml:"wfo"`
}

type Rules struct {
	BroadcastRoom string `yaml:"broadcast_room"`
	MirrorRoom    string `yaml:"mirror_room"`
	ClipWidth     int    `yaml:"clip_width"`
	Extra         []Rule `yaml:"rules"`
	Rooms         Rooms  `yaml:"rooms"`
}

// Destination is one room a bulletin is sent to. Clipped destinations get
// the body with the routing prefix removed.
type Destination struct {
	Room    string
	Clipped bool
	Rule    string
}

var ErrInvalidRules = errors.New("invalid routing rules")

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("decode routes: %w", err)
	}
	if r.ClipWidth == 0 {
		r.ClipWidth = 4
	}
	if err := r.validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// LoadFile reads rules from path, or the built-in rules when path is empty.
func LoadFile(path string) (Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read routes file: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in rule set.
func Default() Rules {
	r, err := Parse(defaultRoutes)
	if err != nil {
		panic(fmt.Sprintf("embedded routes.yaml: %v", err))
	}
	return r
}

func (r Rules) validate() error {
	if r.BroadcastRoom == "" {
		return fmt.Errorf("%w: broadcast_room is required", ErrInvalidRules)
	}
	if r.ClipWidth < 3 {
		return fmt.Errorf("%w: clip_width %d shorter than an office code", ErrInvalidRules, r.ClipWidth)
	}
	for i, rule := range r.Extra {
		if len(rule.Offices) == 0 || len(rule.Rooms) == 0 {
			return fmt.Errorf("%w: rule %d (%s) needs offices and rooms", ErrInvalidRules, i, rule.Name)
		}
		for _, o := range rule.Offices {
			if len(o) != 3 {
				return fmt.Errorf("%w: rule %s office %q is not 3 letters", ErrInvalidRules, rule.Name, o)
			}
		}
	}
	return nil
}

// Snapshot is an immutable, indexed view of one rule set.
type Snapshot struct {
	rules  Rules
	byCode map[string][]int
	exempt map[string]bool
}

func compile(r Rules) *Snapshot {
	s := &Snapshot{
		rules:  r,
		byCode: make(map[string][]int),
		exempt: make(map[string]bool),
	}
	for i, rule := range r.Extra {
		for _, o := range rule.Offices {
			code := strings.ToUpper(o)
			s.byCode[code] = append(s.byCode[code], i)
		}
	}
	for _, rm := range r.Rooms.CWSU {
		s.exempt[rm] = true
	}
	for _, rm := range r.Rooms.Private {
		s.exempt[rm] = true
	}
	return s
}

// Route lists every destination for an office code, case-insensitively:
// the broadcast room, the office room, then each matching extra rule in
// table order.
func (s *Snapshot) Route(code string) []Destination {
	upper := strings.ToUpper(code)
	lower := strings.ToLower(code)

	dests := []Destination{
		{Room: s.rules.BroadcastRoom, Clipped: false, Rule: "broadcast"},
		{Room: lower + "chat", Clipped: true, Rule: "office"},
	}
	for _, idx := range s.byCode[upper] {
		rule := s.rules.Extra[idx]
		for _, rm := range rule.Rooms {
			dests = append(dests, Destination{
				Room:    strings.ReplaceAll(rm, officePlaceholder, lower),
				Clipped: true,
				Rule:    rule.Name,
			})
		}
	}
	return dests
}

// Clip removes the routing prefix from a bulletin body.
func (s *Snapshot) Clip(body string) string {
	if len(body) <= s.rules.ClipWidth {
		return ""
	}
	return body[s.rules.ClipWidth:]
}

// Exempt reports whether room is excluded from the public mirror.
func (s *Snapshot) Exempt(room string) bool {
	return s.exempt[room]
}

func (s *Snapshot) BroadcastRoom() string { return s.rules.BroadcastRoom }
func (s *Snapshot) MirrorRoom() string    { return s.rules.MirrorRoom }

// JoinRooms lists every room in the directory, in file order.
func (s *Snapshot) JoinRooms() []string {
	r := s.rules.Rooms
	out := make([]string, 0, len(r.CWSU)+len(r.Private)+len(r.Public)+len(r.WFO))
	out = append(out, r.CWSU...)
	out = append(out, r.Private...)
	out = append(out, r.Public...)
	out = append(out, r.WFO...)
	return out
}

// RuleCount is the number of extra rules in the snapshot.
func (s *Snapshot) RuleCount() int { return len(s.rules.Extra) }

// Table holds the current snapshot and swaps it atomically on reload.
type Table struct {
	cur  atomic.Pointer[Snapshot]
	path string
}

// New builds a table from rules. path is re-read by ReloadFile.
func New(r Rules, path string) *Table {
	t := &Table{path: path}
	t.cur.Store(compile(r))
	return t
}

// Current returns the snapshot in effect now.
func (t *Table) Current() *Snapshot {
	return t.cur.Load()
}

func (t *Table) Route(code string) []Destination {
	return t.Current().Route(code)
}

// Reload validates r and replaces the table for subsequent decisions.
func (t *Table) Reload(r Rules) error {
	if r.ClipWidth == 0 {
		r.ClipWidth = 4
	}
	if err := r.validate(); err != nil {
		return err
	}
	t.cur.Store(compile(r))
	return nil
}

// ReloadFile re-reads the table's source file and swaps it in. On error the
// current table stays in effect.
func (t *Table) ReloadFile() error {
	r, err := LoadFile(t.path)
	if err != nil {
		return err
	}
	return t.Reload(r)
}
