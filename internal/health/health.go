package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/monitor"
)

type SessionSource interface {
	State() ingest.State
}

type HubSource interface {
	Len() int
}

type StoreSource interface {
	Count() uint64
}

// Report is the /health body.
type Report struct {
	Running     bool         `json:"running"`
	Upstream    ingest.State `json:"upstream"`
	Subscribers int          `json:"subscribers"`
	LinkOK      bool         `json:"link_ok"`
	LinkRTTMs   float64      `json:"link_rtt_ms"`
	Samples     uint64       `json:"samples"`
	Uptime      string       `json:"uptime"`
}

// Reporter assembles the health report from the live components. The link
// is assumed healthy until a monitor reports otherwise.
type Reporter struct {
	session SessionSource
	hub     HubSource
	store   StoreSource
	started time.Time

	running atomic.Bool

	mu   sync.RWMutex
	link monitor.Status
}

func NewReporter(session SessionSource, hub HubSource, store StoreSource) *Reporter {
	return &Reporter{
		session: session,
		hub:     hub,
		store:   store,
		started: time.Now(),
		link:    monitor.Status{OK: true},
	}
}

func (r *Reporter) SetRunning(ok bool) {
	r.running.Store(ok)
}

// SetLinkStatus implements monitor.StatusListener.
func (r *Reporter) SetLinkStatus(s monitor.Status) {
	r.mu.Lock()
	r.link = s
	r.mu.Unlock()
}

func (r *Reporter) Report() Report {
	r.mu.RLock()
	link := r.link
	r.mu.RUnlock()

	rep := Report{
		Running:   r.running.Load(),
		Upstream:  ingest.Disconnected,
		LinkOK:    link.OK,
		LinkRTTMs: float64(link.RTT) / float64(time.Millisecond),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
	}
	if r.session != nil {
		rep.Upstream = r.session.State()
	}
	if r.hub != nil {
		rep.Subscribers = r.hub.Len()
	}
	if r.store != nil {
		rep.Samples = r.store.Count()
	}
	return rep
}

// ServeHTTP answers 200 while running and 503 otherwise.
func (r *Reporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	rep := r.Report()
	status := http.StatusOK
	if !rep.Running {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rep)
}
