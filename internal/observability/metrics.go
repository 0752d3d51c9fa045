package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reload outcomes reported by RecordReload.
const (
	ReloadStarted   = "started"
	ReloadFailed    = "failed"
	ReloadCoalesced = "coalesced"
)

// Metrics holds the prometheus collectors for the watch loop, the reload
// orchestrator and the LiveReload server. All recording methods accept a
// nil receiver so components can run without metrics.
type Metrics struct {
	Polls                 prometheus.Counter
	Changes               *prometheus.CounterVec
	Reloads               *prometheus.CounterVec
	ReloadDuration        prometheus.Histogram
	Generation            prometheus.Gauge
	LiveReloadConnections prometheus.Gauge
	Broadcasts            prometheus.Counter
	SendFailures          prometheus.Counter
	HandshakeFailures     *prometheus.CounterVec
	PeerTimeouts          prometheus.Counter
	RemoteUpdates         *prometheus.CounterVec

	registry *prometheus.Registry
	handler  http.Handler
}

func NewMetrics() *Metrics {
	return &Metrics{
		Polls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "devreload_polls_total",
				Help: "Total number of watch loop scans",
			},
		),
		Changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devreload_changes_total",
				Help: "Total number of detected file changes",
			},
			[]string{"kind"},
		),
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devreload_reloads_total",
				Help: "Total number of reload requests by outcome",
			},
			[]string{"outcome"},
		),
		ReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devreload_reload_duration_seconds",
				Help:    "Time from teardown start until the new generation settled",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		Generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "devreload_generation",
				Help: "Identifier of the current running generation",
			},
		),
		LiveReloadConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "devreload_livereload_connections",
				Help: "Number of admitted LiveReload connections",
			},
		),
		Broadcasts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "devreload_livereload_broadcasts_total",
				Help: "Total number of reload broadcasts",
			},
		),
		SendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "devreload_livereload_send_failures_total",
				Help: "Total number of failed reload frame writes",
			},
		),
		HandshakeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devreload_livereload_handshake_failures_total",
				Help: "Total number of rejected LiveReload handshakes",
			},
			[]string{"reason"},
		),
		PeerTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "devreload_livereload_peer_timeouts_total",
				Help: "Total number of LiveReload clients dropped for not answering pings",
			},
		),
		RemoteUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devreload_remote_updates_total",
				Help: "Total number of remote update requests by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) RecordPoll() {
	if m == nil {
		return
	}
	m.Polls.Inc()
}

func (m *Metrics) RecordChanges(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Changes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordReload(outcome string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReloadDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ReloadDuration.Observe(d.Seconds())
}

func (m *Metrics) SetGeneration(id uint64) {
	if m == nil {
		return
	}
	m.Generation.Set(float64(id))
}

func (m *Metrics) SetLiveReloadConnections(n int) {
	if m == nil {
		return
	}
	m.LiveReloadConnections.Set(float64(n))
}

func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) RecordHandshakeFailure(reason string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPeerTimeout() {
	if m == nil {
		return
	}
	m.PeerTimeouts.Inc()
}

func (m *Metrics) RecordRemoteUpdate(outcome string) {
	if m == nil {
		return
	}
	m.RemoteUpdates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m != nil && m.handler != nil {
		return m.handler
	}
	return promhttp.Handler()
}

// Register registers every collector with a dedicated registry and builds
// the handler serving it.
func (m *Metrics) Register() error {
	m.registry = prometheus.NewRegistry()

	collectors := []prometheus.Collector{
		m.Polls,
		m.Changes,
		m.Reloads,
		m.ReloadDuration,
		m.Generation,
		m.LiveReloadConnections,
		m.Broadcasts,
		m.SendFailures,
		m.HandshakeFailures,
		m.PeerTimeouts,
		m.RemoteUpdates,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return nil
}
