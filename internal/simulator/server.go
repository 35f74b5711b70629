package simulator

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

type Options struct {
	Interval      time.Duration    // default 500ms
	Format        telemetry.Format // default JSON
	MalformedRate float64          // 0..1 share of frames corrupted on purpose
	Seed          int64            // 0 for time-based; connection n uses Seed+n
}

// Server streams a fresh simulated flight to every websocket client.
type Server struct {
	router   chi.Router
	opts     Options
	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewServer(opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Format == telemetry.FormatUnknown {
		opts.Format = telemetry.FormatJSON
	}

	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router.Get("/ws", s.handleFeed)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	n := s.conns.Add(1)
	seed := s.opts.Seed
	if seed != 0 {
		seed += n - 1
	}
	gen := NewGenerator(seed)

	logger := log.With().Str("remote", r.RemoteAddr).Int64("conn", n).Logger()
	logger.Info().Str("encoding", s.opts.Format.String()).Msg("ground station connected")

	// drain client frames so close and pong are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgType := websocket.TextMessage
	if s.opts.Format == telemetry.FormatMsgpack {
		msgType = websocket.BinaryMessage
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logger.Info().Msg("ground station disconnected")
			return
		case <-ticker.C:
			sample := gen.Next()
			frame, err := telemetry.Encode(sample, s.opts.Format)
			if err != nil {
				logger.Error().Err(err).Msg("encode sample")
				return
			}
			corrupt := s.opts.MalformedRate > 0 && gen.rnd.Float64() < s.opts.MalformedRate
			if corrupt {
				frame = gen.Corrupt(frame)
			}

			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(msgType, frame); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				return
			}
			logger.Debug().
				Float64("altitude", sample.Altitude).
				Int("stage", sample.LaunchStage).
				Int("error_code", sample.ErrorCode).
				Bool("corrupt", corrupt).
				Msg("sent")
		}
	}
}
