package roster

import "testing"

func join(room, handle, aff string) Presence {
	return Presence{
		Room:        room,
		Handle:      handle,
		JID:         handle + "@weather.im/laptop",
		Affiliation: aff,
		Role:        "participant",
	}
}

func TestApply_JoinUpdateLeave(t *testing.T) {
	tr := New()

	if got := tr.Apply(join("dmxchat", "daryl", "member")); got != Joined {
		t.Errorf("expected Joined, got %s", got)
	}
	e, ok := tr.Lookup("dmxchat", "daryl")
	if !ok {
		t.Fatal("expected daryl to be present")
	}
	if e.Affiliation != AffMember || e.JID != "daryl@weather.im/laptop" {
		t.Errorf("unexpected entry %+v", e)
	}

	if got := tr.Apply(join("dmxchat", "daryl", "admin")); got != Updated {
		t.Errorf("expected Updated, got %s", got)
	}
	e, _ = tr.Lookup("dmxchat", "daryl")
	if e.Affiliation != AffAdmin {
		t.Errorf("expected admin after update, got %s", e.Affiliation)
	}

	leave := join("dmxchat", "daryl", "admin")
	leave.Role = "none"
	if got := tr.Apply(leave); got != Left {
		t.Errorf("expected Left, got %s", got)
	}
	if _, ok := tr.Lookup("dmxchat", "daryl"); ok {
		t.Error("expected daryl to be removed")
	}
}

func TestApply_LeaveWhenAbsentIsNoop(t *testing.T) {
	tr := New()
	leave := join("dmxchat", "ghost", "none")
	leave.Role = "none"

	if got := tr.Apply(leave); got != NotPresent {
		t.Errorf("expected NotPresent, got %s", got)
	}
	if len(tr.ListRoom("dmxchat")) != 0 {
		t.Error("roster should still be empty")
	}
}

func TestApply_PartialPresenceIgnored(t *testing.T) {
	tr := New()
	tr.Apply(join("dmxchat", "daryl", "owner"))

	for _, p := range []Presence{
		{Room: "dmxchat", Handle: "daryl", Affiliation: "none", Role: "none"},
		{Room: "dmxchat", Handle: "daryl", JID: "x@weather.im", Role: "none"},
		{Room: "dmxchat", Handle: "daryl", JID: "x@weather.im", Affiliation: "member"},
	} {
		if got := tr.Apply(p); got != Ignored {
			t.Errorf("expected Ignored for %+v, got %s", p, got)
		}
	}

	e, ok := tr.Lookup("dmxchat", "daryl")
	if !ok || e.Affiliation != AffOwner {
		t.Errorf("roster changed by partial presence: %+v %v", e, ok)
	}
}

func TestListRoom_ReturnsCopy(t *testing.T) {
	tr := New()
	tr.Apply(join("dmxchat", "daryl", "member"))

	list := tr.ListRoom("dmxchat")
	delete(list, "daryl")

	if _, ok := tr.Lookup("dmxchat", "daryl"); !ok {
		t.Error("mutating the returned map must not affect the tracker")
	}
}

func TestMembers_SortedByHandle(t *testing.T) {
	tr := New()
	tr.Apply(join("dmxchat", "zed", "member"))
	tr.Apply(join("dmxchat", "alice", "admin"))

	m := tr.Members("dmxchat")
	if len(m) != 2 || m[0].Handle != "alice" || m[1].Handle != "zed" {
		t.Errorf("unexpected member order %+v", m)
	}
}

func TestEnsureRoom(t *testing.T) {
	tr := New()
	if tr.HasRoom("botstalk") {
		t.Fatal("room should not exist yet")
	}
	tr.EnsureRoom("botstalk")
	if !tr.HasRoom("botstalk") {
		t.Error("expected room after EnsureRoom")
	}
	if len(tr.ListRoom("botstalk")) != 0 {
		t.Error("expected empty roster")
	}
}

func TestCanAdminister(t *testing.T) {
	cases := map[Affiliation]bool{
		AffOwner: true, AffAdmin: true, AffMember: false, AffNone: false, AffOutcast: false,
	}
	for aff, want := range cases {
		if got := (Entry{Affiliation: aff}).CanAdminister(); got != want {
			t.Errorf("affiliation %s: expected %v, got %v", aff, want, got)
		}
	}
}
