package api

import (
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jasoncpatton/iembot/internal/chatlog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/feeds"
)

const (
	feedBase    = "https://weather.im/iembot-rss/room/"
	projectLink = "https://mesonet.agron.iastate.edu/projects/iembot/"
	titleMax    = 100
)

var (
	tagRE    = regexp.MustCompile(`<[^>]*>`)
	legacyRE = regexp.MustCompile(`^(k...|...|botstalk|...chat)$`)
)

type cachedFeed struct {
	seqnum int64
	body   []byte
}

// legacyRoom maps /iembot-rss/wfo/ names to rooms: kdmx -> dmxchat and
// dmx -> kdmxchat.
func legacyRoom(name string) string {
	switch {
	case len(name) == 4 && name[0] == 'k':
		return name[1:] + "chat"
	case len(name) == 3:
		return "k" + name + "chat"
	}
	return name
}

func (s *Server) handleRoomRSS(w http.ResponseWriter, r *http.Request) {
	room, ok := strings.CutSuffix(strings.ToLower(chi.URLParam(r, "file")), ".xml")
	if !ok || room == "" {
		http.Error(w, "ERROR!", http.StatusOK)
		return
	}
	s.writeFeed(w, room)
}

func (s *Server) handleWFORSS(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(strings.ToLower(chi.URLParam(r, "file")), ".xml")
	if !ok || !legacyRE.MatchString(name) {
		http.Error(w, "ERROR!", http.StatusOK)
		return
	}
	s.writeFeed(w, legacyRoom(name))
}

func (s *Server) writeFeed(w http.ResponseWriter, room string) {
	body, err := s.feed(room, time.Now().UTC())
	if err != nil {
		http.Error(w, "ERROR!", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// feed renders the room's RSS document. Rendered feeds are cached until the
// room logs a newer message.
func (s *Server) feed(room string, now time.Time) ([]byte, error) {
	latest, ok := s.log.Latest(room)
	if !ok {
		return renderRSS(emptyFeed(room, now))
	}

	s.feedMu.Lock()
	cached, hit := s.feeds[room]
	s.feedMu.Unlock()
	if hit && cached.seqnum == latest {
		return cached.body, nil
	}

	entries := s.log.Snapshot(room)
	feed := &feeds.Feed{
		Title:       room + " IEMBot RSS Feed",
		Link:        &feeds.Link{Href: feedBase + room + ".xml"},
		Description: room + " IEMBot RSS Feed",
		Updated:     now,
	}
	for _, e := range entries {
		feed.Items = append(feed.Items, entryItem(room, e))
	}
	// The snapshot may be newer than latest; key the cache by what we rendered.
	if len(entries) > 0 {
		latest = entries[0].Seqnum
	}

	body, err := renderRSS(feed)
	if err != nil {
		return nil, err
	}
	s.feedMu.Lock()
	s.feeds[room] = cachedFeed{seqnum: latest, body: body}
	s.feedMu.Unlock()
	return body, nil
}

func emptyFeed(room string, now time.Time) *feeds.Feed {
	return &feeds.Feed{
		Title:       "IEMBot RSS Feed",
		Link:        &feeds.Link{Href: feedBase + room + ".xml"},
		Description: "Syndication of iembot messages.",
		Updated:     now,
		Items: []*feeds.Item{{
			Title:   "IEMBOT recently restarted, no history yet",
			Link:    &feeds.Link{Href: projectLink},
			Id:      "restart-" + room,
			Created: now,
		}},
	}
}

func entryItem(room string, e chatlog.Entry) *feeds.Item {
	text := strings.TrimSpace(html.UnescapeString(tagRE.ReplaceAllString(e.Log, "")))
	title := text
	if r := []rune(title); len(r) > titleMax {
		title = string(r[:titleMax]) + "..."
	}
	if title == "" {
		title = fmt.Sprintf("%s message %d", room, e.Seqnum)
	}
	item := &feeds.Item{
		Title:       title,
		Link:        &feeds.Link{Href: feedBase + room + ".xml"},
		Description: e.Log,
		Id:          strconv.FormatInt(e.Seqnum, 10),
		Created:     e.Time(),
	}
	if e.Author != "" {
		item.Author = &feeds.Author{Name: e.Author}
	}
	return item
}

func renderRSS(feed *feeds.Feed) ([]byte, error) {
	out, err := feed.ToRss()
	if err != nil {
		return nil, fmt.Errorf("render rss: %w", err)
	}
	return []byte(out), nil
}
