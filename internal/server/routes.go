package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/store"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// snapshotMessage is the first message on every viewer stream and the body
// of GET /api/v1/snapshot.
type snapshotMessage struct {
	Type     string                   `json:"type"`
	Channels map[string][]store.Point `json:"channels"`
	RawLog   []string                 `json:"rawLog"`
	Latest   *telemetry.Sample        `json:"latest,omitempty"`
	Derived  *mission.DerivedState    `json:"derived,omitempty"`
	State    ingest.State             `json:"state"`
	Samples  uint64                   `json:"samples"`
}

type channelResponse struct {
	Name     string        `json:"name"`
	Capacity int           `json:"capacity"`
	Points   []store.Point `json:"points"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) snapshot() snapshotMessage {
	snap := s.store.SnapshotAll()
	msg := snapshotMessage{
		Type:     "snapshot",
		Channels: snap.Channels,
		RawLog:   snap.RawLog,
		Latest:   snap.Latest,
		State:    s.state(),
		Samples:  snap.Samples,
	}
	if snap.Latest != nil {
		d := mission.Derive(*snap.Latest)
		msg.Derived = &d
	}
	return msg
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	points, ok := s.store.Snapshot(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown channel "+name)
		return
	}
	s.writeJSON(w, http.StatusOK, channelResponse{
		Name:     name,
		Capacity: s.store.Capacity(),
		Points:   points,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: status})
}
