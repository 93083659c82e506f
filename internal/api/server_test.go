package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jasoncpatton/iembot/internal/chatlog"
	"github.com/jasoncpatton/iembot/internal/dispatcher"
	"github.com/jasoncpatton/iembot/internal/events"
	"github.com/jasoncpatton/iembot/internal/metrics"
	"github.com/jasoncpatton/iembot/internal/roster"
	"github.com/jasoncpatton/iembot/internal/routing"
)

type nopHandler struct{}

func (nopHandler) Handle(context.Context, events.Event) error { return nil }

type fixture struct {
	srv    *Server
	log    *chatlog.Log
	roster *roster.Tracker
	routes *routing.Table
}

func setupServer(t *testing.T, routesPath string) *fixture {
	t.Helper()
	rules, err := routing.LoadFile(routesPath)
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}
	f := &fixture{
		log:    chatlog.New(0),
		roster: roster.New(),
		routes: routing.New(rules, routesPath),
	}
	d := dispatcher.New(nopHandler{}, nil, nil, dispatcher.Config{BufferMax: 100})
	f.srv = NewServer(f.log, f.roster, f.routes, d, metrics.NewProcessor(), 9003)
	return f
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t, "")

	w := get(f.srv, "/iembot-json/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" || body["service"] != "iembot" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRoomFeed(t *testing.T) {
	f := setupServer(t, "")
	stamp := time.Date(2026, 2, 12, 14, 30, 5, 0, time.UTC)
	f.log.Append("dmxchat", chatlog.Message{Author: "iembot", Body: "first", ProductID: "p1", Stamp: stamp})
	seq2 := f.log.Append("dmxchat", chatlog.Message{Author: "daryl", Body: "second", Stamp: stamp})
	f.log.Append("dmxchat", chatlog.Message{Author: "daryl", Body: "third", Stamp: stamp})

	w := get(f.srv, "/iembot-json/room/dmxchat?seqnum=0")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Messages []feedMessage `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(body.Messages))
	}
	first := body.Messages[0]
	if first.Message != "first" || first.ProductID != "p1" || first.Author != "iembot" {
		t.Errorf("expected oldest first, got %+v", first)
	}
	if first.TS != "2026-02-12 14:30:05" {
		t.Errorf("unexpected ts %s", first.TS)
	}

	w = get(f.srv, "/iembot-json/room/dmxchat?seqnum="+itoa(seq2))
	body.Messages = nil
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Messages) != 1 || body.Messages[0].Message != "third" {
		t.Errorf("expected only messages after seqnum, got %+v", body.Messages)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRoomFeed_Errors(t *testing.T) {
	f := setupServer(t, "")
	f.log.Append("dmxchat", chatlog.Message{Body: "x"})

	for _, path := range []string{
		"/iembot-json/room/dmxchat",
		"/iembot-json/room/dmxchat?seqnum=abc",
		"/iembot-json/room/nosuchchat?seqnum=0",
		"/iembot-json/room/bad-room?seqnum=0",
	} {
		w := get(f.srv, path)
		if strings.TrimSpace(w.Body.String()) != `"ERROR"` {
			t.Errorf("%s: expected \"ERROR\", got %s", path, w.Body.String())
		}
	}
}

func TestRoomFeed_JSONP(t *testing.T) {
	f := setupServer(t, "")
	f.log.Append("dmxchat", chatlog.Message{Author: "a", Body: "x"})

	w := get(f.srv, "/iembot-json/room/dmxchat?seqnum=0&callback=cb")
	if ct := w.Header().Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("expected javascript content type, got %s", ct)
	}
	out := w.Body.String()
	if !strings.HasPrefix(out, "cb({") || !strings.HasSuffix(out, ");") {
		t.Errorf("unexpected JSONP body %s", out)
	}

	w = get(f.srv, "/iembot-json/room/dmxchat?seqnum=0&callback=alert(1)")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsafe callback, got %d", w.Code)
	}
}

func TestRosterEndpoint(t *testing.T) {
	f := setupServer(t, "")
	f.roster.Apply(roster.Presence{Room: "dmxchat", Handle: "daryl", JID: "daryl@weather.im", Affiliation: "owner", Role: "moderator"})

	w := get(f.srv, "/iembot-json/roster/dmxchat")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Room    string          `json:"room"`
		Members []roster.Member `json:"members"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Members) != 1 || body.Members[0].Handle != "daryl" || body.Members[0].Affiliation != roster.AffOwner {
		t.Errorf("unexpected roster %+v", body)
	}

	if w := get(f.srv, "/iembot-json/roster/nosuchchat"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := setupServer(t, "")
	f.log.Append("dmxchat", chatlog.Message{Body: "x"})

	w := get(f.srv, "/iembot-json/status")
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["seqnum"] != float64(1) {
		t.Errorf("expected seqnum 1, got %v", body["seqnum"])
	}
	if body["routing_rules"] != float64(12) {
		t.Errorf("expected 12 rules, got %v", body["routing_rules"])
	}
	if _, ok := body["metrics"].(map[string]any); !ok {
		t.Errorf("expected metrics object, got %v", body["metrics"])
	}
}

func TestReloadEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte("broadcast_room: botstalk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := setupServer(t, path)

	var hooked *routing.Snapshot
	f.srv.SetReloadHook(func(_ context.Context, s *routing.Snapshot) error {
		hooked = s
		return nil
	})

	if err := os.WriteFile(path, []byte("broadcast_room: botstalk\nrooms:\n  public: [newroom]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := get(f.srv, "/iembot-json/reload")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `"OK"` {
		t.Fatalf("expected \"OK\", got %d %s", w.Code, w.Body.String())
	}
	if hooked == nil || len(hooked.JoinRooms()) != 1 || hooked.JoinRooms()[0] != "newroom" {
		t.Errorf("expected reload hook with new snapshot, got %v", hooked)
	}

	if err := os.WriteFile(path, []byte("broadcast_room: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w = get(f.srv, "/iembot-json/reload")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for invalid rules, got %d", w.Code)
	}
	if f.routes.Current().BroadcastRoom() != "botstalk" {
		t.Error("expected previous table kept after failed reload")
	}
}
