package routing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func rooms(dests []Destination) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = d.Room
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRoute_DMX(t *testing.T) {
	tbl := New(Default(), "")

	got := rooms(tbl.Route("DMX"))
	want := []string{"botstalk", "dmxchat", "dmxemchat", "kccichat"}
	if !equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRoute_BMXSixDestinations(t *testing.T) {
	tbl := New(Default(), "")

	dests := tbl.Route("BMX")
	got := rooms(dests)
	want := []string{"botstalk", "bmxchat", "bmxemachat", "abc3340", "bmxalert", "vipir6and7"}
	if !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if dests[0].Clipped {
		t.Error("broadcast room must receive the untouched body")
	}
	for _, d := range dests[1:] {
		if !d.Clipped {
			t.Errorf("expected %s to receive the clipped body", d.Room)
		}
	}
}

func TestRoute_UnknownOffice(t *testing.T) {
	tbl := New(Default(), "")

	got := rooms(tbl.Route("ZZZ"))
	want := []string{"botstalk", "zzzchat"}
	if !equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRoute_CaseInsensitive(t *testing.T) {
	tbl := New(Default(), "")

	if !equal(rooms(tbl.Route("tbw")), rooms(tbl.Route("TBW"))) {
		t.Error("expected identical routes regardless of case")
	}
	want := []string{"botstalk", "tbwchat", "tbwemchat"}
	if got := rooms(tbl.Route("Tbw")); !equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRoute_EveryDocumentedRule(t *testing.T) {
	tbl := New(Default(), "")

	cases := map[string][]string{
		"MLB": {"mlbemchat"},
		"FWD": {"fwdemachat"},
		"HUN": {"abc3340"},
		"MOB": {"vipir6and7"},
		"TAE": {"vipir6and7"},
		"FFC": {"wxiaweather"},
		"JAN": {"janhydrochat"},
		"JAX": {"jaxemachat"},
		"ABQ": {"abqemachat"},
		"SLC": {"wrhchat"},
		"BRO": {"broemchat"},
	}
	for code, extra := range cases {
		got := rooms(tbl.Route(code))[2:]
		if !equal(got, extra) {
			t.Errorf("%s: expected extras %v, got %v", code, extra, got)
		}
	}
}

func TestRoute_DuplicatesNotCollapsed(t *testing.T) {
	r := Default()
	r.Extra = append(r.Extra, Rule{Name: "again", Offices: []string{"DMX"}, Rooms: []string{"kccichat"}})
	tbl := New(r, "")

	n := 0
	for _, rm := range rooms(tbl.Route("DMX")) {
		if rm == "kccichat" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("expected kccichat twice, got %d", n)
	}
}

func TestClip(t *testing.T) {
	s := New(Default(), "").Current()

	if got := s.Clip("BMX issues a warning"); got != "issues a warning" {
		t.Errorf("unexpected clip %q", got)
	}
	if got := s.Clip("BMX"); got != "" {
		t.Errorf("expected empty clip for bare code, got %q", got)
	}
}

func TestExemptAndJoinRooms(t *testing.T) {
	s := New(Default(), "").Current()

	if !s.Exempt("zabchat") || !s.Exempt("bmxalert") {
		t.Error("expected cwsu and private rooms to be exempt")
	}
	if s.Exempt("dmxchat") || s.Exempt("botstalk") {
		t.Error("wfo and public rooms must not be exempt")
	}

	join := s.JoinRooms()
	if join[0] != "zabchat" {
		t.Errorf("expected cwsu rooms first, got %s", join[0])
	}
	found := false
	for _, rm := range join {
		if rm == "gumchat" {
			found = true
		}
	}
	if !found {
		t.Error("expected gumchat in the join list")
	}
	if s.MirrorRoom() != "peopletalk" || s.BroadcastRoom() != "botstalk" {
		t.Errorf("unexpected rooms %s %s", s.MirrorRoom(), s.BroadcastRoom())
	}
}

func TestReload_SwapsAtomically(t *testing.T) {
	tbl := New(Default(), "")
	before := tbl.Current()

	err := tbl.Reload(Rules{
		BroadcastRoom: "allbulletins",
		Extra:         []Rule{{Name: "x", Offices: []string{"ZZZ"}, Rooms: []string{"zzzextra"}}},
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	got := rooms(tbl.Route("ZZZ"))
	want := []string{"allbulletins", "zzzchat", "zzzextra"}
	if !equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// A snapshot taken before the reload keeps routing with the old rules.
	if old := rooms(before.Route("ZZZ")); !equal(old, []string{"botstalk", "zzzchat"}) {
		t.Errorf("old snapshot changed: %v", old)
	}
}

func TestReload_InvalidKeepsCurrent(t *testing.T) {
	tbl := New(Default(), "")

	err := tbl.Reload(Rules{BroadcastRoom: ""})
	if !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules, got %v", err)
	}
	err = tbl.Reload(Rules{BroadcastRoom: "b", Extra: []Rule{{Name: "bad", Offices: []string{"TOOLONG"}, Rooms: []string{"r"}}}})
	if !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules for bad office, got %v", err)
	}
	if got := rooms(tbl.Route("DMX")); len(got) != 4 {
		t.Errorf("expected original table in effect, got %v", got)
	}
}

func TestReloadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte("broadcast_room: botstalk\nrules:\n  - name: one\n    offices: [OAX]\n    rooms: [oaxextra]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tbl := New(r, path)
	if got := rooms(tbl.Route("OAX")); !equal(got, []string{"botstalk", "oaxchat", "oaxextra"}) {
		t.Fatalf("unexpected route %v", got)
	}

	if err := os.WriteFile(path, []byte("broadcast_room: botstalk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ReloadFile(); err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if got := rooms(tbl.Route("OAX")); !equal(got, []string{"botstalk", "oaxchat"}) {
		t.Errorf("expected rule removed after reload, got %v", got)
	}

	if err := os.WriteFile(path, []byte("rules: [[[\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.ReloadFile(); err == nil {
		t.Error("expected error for malformed file")
	}
	if got := rooms(tbl.Route("OAX")); len(got) != 2 {
		t.Errorf("expected previous table kept, got %v", got)
	}
}

func TestLoadFile_EmptyPathUsesDefaults(t *testing.T) {
	r, err := LoadFile("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if len(r.Extra) != 12 {
		t.Errorf("expected 12 built-in rules, got %d", len(r.Extra))
	}
	if r.ClipWidth != 4 {
		t.Errorf("expected clip width 4, got %d", r.ClipWidth)
	}
}
