// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gcs_frames_received_total",
		Help: "Frames read from the upstream feed",
	})
	FramesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcs_frames_rejected_total",
		Help: "Frames dropped by the decoder, by reason",
	}, []string{"reason"})
	SamplesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gcs_samples_accepted_total",
		Help: "Samples decoded and pushed into the channel store",
	})
	SessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gcs_session_state",
		Help: "Upstream session state (0 disconnected, 1 connecting, 2 connected, 3 closing, 4 closed)",
	})
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcs_connect_attempts_total",
		Help: "Upstream connection attempts, by result",
	}, []string{"result"})
	TransportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcs_transport_errors_total",
		Help: "Upstream transport failures, by kind",
	}, []string{"kind"})

	// Distribution
	HubSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gcs_hub_subscribers",
		Help: "Currently attached viewer subscriptions",
	})
	HubPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcs_hub_published_total",
		Help: "Messages fanned out by the hub, by kind",
	}, []string{"kind"})
	HubDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gcs_hub_dropped_total",
		Help: "Queued messages evicted from slow subscriptions",
	})

	// Forwarder
	ForwarderBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gcs_forwarder_batches_total",
		Help: "Archive batches flushed, by result",
	}, []string{"result"})
	ForwarderFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gcs_forwarder_flush_duration_seconds",
		Help:    "Duration of archive batch flushes including retries",
		Buckets: prometheus.DefBuckets,
	})

	// Link monitor
	LinkRTTSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gcs_link_rtt_seconds",
		Help: "Average ICMP round trip to the upstream host",
	})
	LinkPacketLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gcs_link_packet_loss_ratio",
		Help: "ICMP packet loss to the upstream host (0..1)",
	})

	registerOnce sync.Once
)

func init() {
	Init()
}

// Init registers every collector with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FramesReceived,
			FramesRejected,
			SamplesAccepted,
			SessionState,
			ConnectAttempts,
			TransportErrors,
			HubSubscribers,
			HubPublished,
			HubDropped,
			ForwarderBatches,
			ForwarderFlushSeconds,
			LinkRTTSeconds,
			LinkPacketLoss,
		)
	})
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
