package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/hub"
)

// handleViewer upgrades to a websocket and streams the snapshot followed by
// every hub message. The subscription is taken before the snapshot, so a
// sample may appear in both; viewers dedupe by timestamp.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	sub, err := s.hub.Subscribe()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hub.ErrHubClosed) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		sub.Close()
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	logger := log.With().Str("subscription", sub.ID()).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("viewer connected")

	defer func() {
		sub.Close()
		conn.Close()
		logger.Info().Uint64("dropped", sub.Dropped()).Msg("viewer disconnected")
	}()

	if err := s.write(conn, s.snapshot()); err != nil {
		logger.Debug().Err(err).Msg("snapshot write failed")
		return
	}

	// The read pump only services control frames and notices the peer leaving.
	gone := make(chan struct{})
	readDeadline := 2 * s.opts.PingInterval
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				s.closeFrame(conn, websocket.CloseGoingAway, "unsubscribed")
				return
			}
			if err := s.write(conn, m); err != nil {
				logger.Debug().Err(err).Msg("viewer write failed")
				return
			}
			if m.Kind == hub.KindShutdown {
				s.closeFrame(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("viewer ping failed")
				return
			}

		case <-gone:
			return

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteJSON(v)
}

func (s *Server) closeFrame(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
}
