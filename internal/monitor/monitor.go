// Package monitor watches the network path to the upstream device: ICMP
// round trip and loss via go-ping, link state and routing via netlink.
package monitor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/metrics"
)

type Prober interface {
	Probe(ctx context.Context) (PingMetrics, error)
}

type Inspector interface {
	Interface(name string) (InterfaceStatus, error)
	RouteInterface(dst net.IP) (string, error)
}

// StatusListener receives every evaluated Status.
type StatusListener interface {
	SetLinkStatus(s Status)
}

// Status is the latest link evaluation.
type Status struct {
	OK          bool          `json:"ok"`
	RTT         time.Duration `json:"rtt"`
	Jitter      time.Duration `json:"jitter"`
	PacketLoss  float64       `json:"packet_loss_pct"`
	Interface   string        `json:"interface,omitempty"`
	InterfaceUp bool          `json:"interface_up"`
	Route       string        `json:"route,omitempty"`
	Failures    int           `json:"failures"`
	CheckedAt   time.Time     `json:"checked_at"`
	Error       string        `json:"error,omitempty"`
}

type Options struct {
	Host             string
	Interface        string
	Interval         time.Duration
	RTTThreshold     time.Duration
	LossThresholdPct float64
	FailCount        int // consecutive bad probes before the link is reported down
}

type Monitor struct {
	opts      Options
	prober    Prober
	inspector Inspector
	listener  StatusListener

	mu       sync.RWMutex
	status   Status
	failures int
}

// New creates a monitor. inspector and listener may be nil.
func New(opts Options, prober Prober, inspector Inspector, listener StatusListener) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.FailCount < 1 {
		opts.FailCount = 1
	}
	// optimistic until the first probe says otherwise
	return &Monitor{
		opts:      opts,
		prober:    prober,
		inspector: inspector,
		listener:  listener,
		status:    Status{OK: true},
	}
}

func (m *Monitor) Run(ctx context.Context) {
	log.Info().Str("host", m.opts.Host).Dur("interval", m.opts.Interval).Msg("link monitor started")

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		m.RunOnce(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("link monitor stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce probes the link, updates the status and notifies the listener.
func (m *Monitor) RunOnce(ctx context.Context) Status {
	st := Status{CheckedAt: time.Now().UTC(), Interface: m.opts.Interface, InterfaceUp: true}
	healthy := true

	pm, err := m.prober.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.Status()
		}
		healthy = false
		st.Error = err.Error()
		st.PacketLoss = 100
	} else {
		st.RTT = pm.AvgRTT
		st.Jitter = pm.Jitter
		st.PacketLoss = pm.PacketLoss
		if m.opts.RTTThreshold > 0 && pm.AvgRTT > m.opts.RTTThreshold {
			healthy = false
		}
		if m.opts.LossThresholdPct > 0 && pm.PacketLoss > m.opts.LossThresholdPct {
			healthy = false
		}
		if pm.Received == 0 {
			healthy = false
		}
	}

	if m.inspector != nil {
		if m.opts.Interface != "" {
			is, err := m.inspector.Interface(m.opts.Interface)
			if err != nil {
				st.Error = err.Error()
			}
			st.InterfaceUp = err == nil && is.Up
			if !st.InterfaceUp {
				healthy = false
			}
		}
		if ip := net.ParseIP(m.opts.Host); ip != nil {
			if name, err := m.inspector.RouteInterface(ip); err == nil {
				st.Route = name
			} else {
				log.Debug().Err(err).Msg("route lookup failed")
			}
		}
	}

	m.mu.Lock()
	if healthy {
		m.failures = 0
	} else {
		m.failures++
	}
	st.Failures = m.failures
	st.OK = m.failures < m.opts.FailCount
	changed := st.OK != m.status.OK
	m.status = st
	m.mu.Unlock()

	metrics.LinkRTTSeconds.Set(st.RTT.Seconds())
	metrics.LinkPacketLoss.Set(st.PacketLoss / 100)

	ev := log.Debug()
	if changed {
		ev = log.Warn()
		if st.OK {
			ev = log.Info()
		}
	}
	ev.Bool("link_ok", st.OK).
		Dur("rtt", st.RTT).
		Float64("packet_loss", st.PacketLoss).
		Dur("jitter", st.Jitter).
		Str("route", st.Route).
		Msg("link evaluated")

	if m.listener != nil {
		m.listener.SetLinkStatus(st)
	}
	return st
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
