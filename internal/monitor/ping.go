package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

type PingMetrics struct {
	AvgRTT     time.Duration
	PacketLoss float64 // percent, 0..100
	Jitter     time.Duration
	Sent       int
	Received   int
}

// PingProber sends a short ICMP burst to the upstream host.
type PingProber struct {
	host       string
	count      int
	timeout    time.Duration
	privileged bool
}

func NewPingProber(host string, count int, timeout time.Duration, privileged bool) *PingProber {
	if count < 1 {
		count = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PingProber{host: host, count: count, timeout: timeout, privileged: privileged}
}

func (p *PingProber) Probe(ctx context.Context) (PingMetrics, error) {
	pinger, err := ping.NewPinger(p.host)
	if err != nil {
		return PingMetrics{}, fmt.Errorf("ping %s: %w", p.host, err)
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	var previousRTT, jitterTotal time.Duration
	var jitterCount int

	pinger.OnRecv = func(pkt *ping.Packet) {
		if previousRTT != 0 {
			diff := pkt.Rtt - previousRTT
			if diff < 0 {
				diff = -diff
			}
			jitterTotal += diff
			jitterCount++
		}
		previousRTT = pkt.Rtt
	}

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return PingMetrics{}, fmt.Errorf("ping %s: %w", p.host, err)
	}
	if err := ctx.Err(); err != nil {
		return PingMetrics{}, err
	}

	stats := pinger.Statistics()
	m := PingMetrics{
		AvgRTT:     stats.AvgRtt,
		PacketLoss: stats.PacketLoss,
		Sent:       stats.PacketsSent,
		Received:   stats.PacketsRecv,
	}
	if jitterCount > 0 {
		m.Jitter = jitterTotal / time.Duration(jitterCount)
	}
	return m, nil
}
