// Package server exposes the viewer feed: a websocket stream per viewer and
// a small REST surface over the channel store.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/gmat/gcs-telemetry/internal/hub"
	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/metrics"
	"github.com/gmat/gcs-telemetry/internal/store"
)

// StateSource reports the upstream session state.
type StateSource interface {
	State() ingest.State
}

type Options struct {
	WriteTimeout   time.Duration // per websocket write (default 5s)
	PingInterval   time.Duration // websocket keepalive (default 30s)
	AllowedOrigins []string      // empty allows any origin
}

// Server exposes the HTTP transport for viewers.
type Server struct {
	router   chi.Router
	store    *store.Store
	hub      *hub.Hub
	session  StateSource
	opts     Options
	upgrader websocket.Upgrader
}

// New builds the chi router. health may be nil.
func New(st *store.Store, h *hub.Hub, session StateSource, health http.Handler, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	s := &Server{
		router:  chi.NewRouter(),
		store:   st,
		hub:     h,
		session: session,
		opts:    opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get("/ws", s.handleViewer)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/channels/{name}", s.handleChannel)
	})
	if health != nil {
		s.router.Method(http.MethodGet, "/health", health)
	}
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	return s
}

// Router returns the configured chi router for reuse in tests or external HTTP servers.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) state() ingest.State {
	if s.session == nil {
		return ingest.Disconnected
	}
	return s.session.State()
}
