// Package metrics exposes Prometheus metrics for the translation engine and
// the relay hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Engine
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	AudioBytesTotal *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	CostUSDTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	Confirmations   *prometheus.CounterVec

	// Relay hub
	PeersActive      prometheus.Gauge
	PeerJoinsTotal   prometheus.Counter
	PeerLeavesTotal  *prometheus.CounterVec
	RoomsActive      prometheus.Gauge
	RelayFramesTotal prometheus.Counter
	RelayBytesTotal  prometheus.Counter
	RelayDropsTotal  *prometheus.CounterVec
	JoinDeniedTotal  *prometheus.CounterVec
}

// New creates a Metrics instance. An empty namespace defaults to
// "livetranslate".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "livetranslate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active translation sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Translation sessions that became active",
		}, []string{"mode"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Active translation session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"reason"}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes sent to and received from the translation endpoint",
		}, []string{"direction"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens accounted by the usage ledger",
		}, []string{"direction", "modality"}),
		CostUSDTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated cost in USD",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Session errors by classification",
		}, []string{"kind"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Retranslation confirmations by result",
		}, []string{"result"}),

		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_peers_active",
			Help:      "Peers connected to this relay instance",
		}),
		PeerJoinsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_peer_joins_total",
			Help:      "Accepted room joins",
		}),
		PeerLeavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_peer_leaves_total",
			Help:      "Peers that left a room, by reason",
		}, []string{"reason"}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_rooms_active",
			Help:      "Rooms with at least one local peer",
		}),
		RelayFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Relay frames delivered to peers",
		}),
		RelayBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Relay bytes delivered to peers",
		}),
		RelayDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_drops_total",
			Help:      "Frames dropped by the relay, by reason",
		}, []string{"reason"}),
		JoinDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_join_denied_total",
			Help:      "Join attempts rejected before upgrade or at join, by reason",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.AudioBytesTotal,
		m.TokensTotal,
		m.CostUSDTotal,
		m.ErrorsTotal,
		m.Confirmations,
		m.PeersActive,
		m.PeerJoinsTotal,
		m.PeerLeavesTotal,
		m.RoomsActive,
		m.RelayFramesTotal,
		m.RelayBytesTotal,
		m.RelayDropsTotal,
		m.JoinDeniedTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordSessionStart records a session becoming active.
func (m *Metrics) RecordSessionStart(solo bool) {
	mode := "paired"
	if solo {
		mode = "solo"
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(mode).Inc()
}

// RecordSessionEnd records an active session ending.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.WithLabelValues(reason).Observe(durationSeconds)
}

func (m *Metrics) RecordAudio(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordTokens adds a ledger delta.
func (m *Metrics) RecordTokens(delta usage.Counters) {
	add := func(direction, modality string, n int64) {
		if n > 0 {
			m.TokensTotal.WithLabelValues(direction, modality).Add(float64(n))
		}
	}
	add("input", "text", delta.InputTextTokens)
	add("input", "audio", delta.InputAudioTokens)
	add("output", "text", delta.OutputTextTokens)
	add("output", "audio", delta.OutputAudioTokens)
	if delta.CostUSD > 0 {
		m.CostUSDTotal.Add(delta.CostUSD)
	}
}

func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordConfirmation(result string) {
	m.Confirmations.WithLabelValues(result).Inc()
}

// RecordPeerJoin records an accepted join.
func (m *Metrics) RecordPeerJoin() {
	m.PeerJoinsTotal.Inc()
	m.PeersActive.Inc()
}

func (m *Metrics) RecordPeerLeave(reason string) {
	m.PeersActive.Dec()
	m.PeerLeavesTotal.WithLabelValues(reason).Inc()
}

// RecordRelay records one relay frame written to a peer.
func (m *Metrics) RecordRelay(bytes int) {
	m.RelayFramesTotal.Inc()
	m.RelayBytesTotal.Add(float64(bytes))
}

func (m *Metrics) RecordDrop(reason string) {
	m.RelayDropsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetRooms(n int) {
	m.RoomsActive.Set(float64(n))
}

// RecordJoinDenied records a join rejected by limits, auth or capacity.
func (m *Metrics) RecordJoinDenied(reason string) {
	m.JoinDeniedTotal.WithLabelValues(reason).Inc()
}
