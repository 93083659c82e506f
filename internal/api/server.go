package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jasoncpatton/iembot/internal/chatlog"
	"github.com/jasoncpatton/iembot/internal/dispatcher"
	"github.com/jasoncpatton/iembot/internal/metrics"
	"github.com/jasoncpatton/iembot/internal/roster"
	"github.com/jasoncpatton/iembot/internal/routing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ReloadHook runs after a successful routing table reload.
type ReloadHook func(ctx context.Context, s *routing.Snapshot) error

type Server struct {
	log        *chatlog.Log
	roster     *roster.Tracker
	routes     *routing.Table
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Processor
	onReload   ReloadHook
	router     chi.Router
	port       int

	feedMu sync.Mutex
	feeds  map[string]cachedFeed
}

func NewServer(log *chatlog.Log, rt *roster.Tracker, routes *routing.Table, d *dispatcher.Dispatcher, mp *metrics.Processor, port int) *Server {
	srv := &Server{
		log:        log,
		roster:     rt,
		routes:     routes,
		dispatcher: d,
		metrics:    mp,
		port:       port,
		feeds:      make(map[string]cachedFeed),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.GetHead)

	r.Route("/iembot-json", func(r chi.Router) {
		r.Get("/room/{room}", srv.handleRoom)
		r.Get("/roster/{room}", srv.handleRoster)
		r.Get("/reload", srv.handleReload)
		r.Get("/status", srv.handleStatus)
		r.Get("/health", srv.handleHealth)
	})
	r.Route("/iembot-rss", func(r chi.Router) {
		r.Get("/room/{file}", srv.handleRoomRSS)
		r.Get("/wfo/{file}", srv.handleWFORSS)
	})

	srv.router = r
	return srv
}

// SetReloadHook registers work to do after the routing table is reloaded,
// such as joining newly listed rooms.
func (s *Server) SetReloadHook(fn ReloadHook) {
	s.onReload = fn
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

var (
	roomRE     = regexp.MustCompile(`^[a-z_0-9]+$`)
	callbackRE = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)
)

type feedMessage struct {
	Seqnum    int64  `json:"seqnum"`
	TS        string `json:"ts"`
	Author    string `json:"author"`
	ProductID string `json:"product_id"`
	Message   string `json:"message"`
}

// handleRoom serves /iembot-json/room/{room}?seqnum=N: every logged message
// newer than N, oldest first.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room := strings.ToLower(chi.URLParam(r, "room"))
	if !roomRE.MatchString(room) {
		slog.Info("bad room feed request", "uri", r.URL.RequestURI())
		writeJSONP(w, r, "ERROR")
		return
	}

	seqnum, err := strconv.ParseInt(r.URL.Query().Get("seqnum"), 10, 64)
	if err != nil {
		slog.Info("bad room feed request, seqnum problem", "uri", r.URL.RequestURI())
		writeJSONP(w, r, "ERROR")
		return
	}
	if !s.log.Has(room) {
		slog.Info("no chat log for room", "room", room)
		writeJSONP(w, r, "ERROR")
		return
	}

	entries := s.log.RecentSince(room, seqnum)
	msgs := make([]feedMessage, len(entries))
	for i, e := range entries {
		msgs[i] = feedMessage{
			Seqnum:    e.Seqnum,
			TS:        e.Time().Format("2006-01-02 15:04:05"),
			Author:    e.Author,
			ProductID: e.ProductID,
			Message:   e.Log,
		}
	}
	writeJSONP(w, r, map[string]any{"messages": msgs})
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	room := strings.ToLower(chi.URLParam(r, "room"))
	if !s.roster.HasRoom(room) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    room,
		"members": s.roster.Members(room),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	slog.Info("reloading routing table")
	if err := s.routes.ReloadFile(); err != nil {
		slog.Error("routing table reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if s.onReload != nil {
		if err := s.onReload(r.Context(), s.routes.Current()); err != nil {
			slog.Error("post-reload hook failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, "OK")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.routes.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_length":  s.dispatcher.QueueLen(),
		"queue_dropped": s.dispatcher.Dropped(),
		"seqnum":        s.log.Seqnum(),
		"rooms_logged":  len(s.log.Rooms()),
		"routing_rules": snap.RuleCount(),
		"metrics":       s.metrics.Snapshot(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"service":      "iembot",
		"queue_length": s.dispatcher.QueueLen(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONP writes v as JSON, wrapped in the request's callback when one
// is given.
func writeJSONP(w http.ResponseWriter, r *http.Request, v any) {
	cb := r.URL.Query().Get("callback")
	if cb == "" {
		writeJSON(w, http.StatusOK, v)
		return
	}
	if !callbackRE.MatchString(cb) {
		writeJSON(w, http.StatusBadRequest, "ERROR")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, "ERROR")
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s(%s);", cb, data)
}
