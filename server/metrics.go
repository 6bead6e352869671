package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the framework's Prometheus collectors. Each server owns a
// private registry so several instances (and parallel tests) can coexist
// in one process.
type metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	lobbiesActive  prometheus.Gauge
	messagesIn     prometheus.Counter
	messagesOut    prometheus.Counter
	decodeErrors   prometheus.Counter
	tickDuration   prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "thunders_sessions_active",
			Help: "Number of connected player sessions",
		}),
		lobbiesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "thunders_lobbies_active",
			Help: "Number of running lobby workers",
		}),
		messagesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "thunders_messages_in_total",
			Help: "Total frames received from clients",
		}),
		messagesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "thunders_messages_out_total",
			Help: "Total frames enqueued to client sessions",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "thunders_decode_errors_total",
			Help: "Total inbound frames that failed envelope or payload decoding",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "thunders_tick_duration_seconds",
			Help:    "Time spent inside OnTick per invocation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

func (m *metrics) observeTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// handler exposes the registry in Prometheus text format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
