package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musicsync"

type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal   *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	CommandsDropped *prometheus.CounterVec
	ConnectionsOpen prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound websocket messages by type and result.",
		}, []string{"type", "result"}),
		MessageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ws_message_duration_seconds",
			Help:      "Time spent handling one inbound websocket message.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"type"}),
		CommandsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Inbound websocket messages dropped without a reply.",
		}, []string{"reason"}),
		ConnectionsOpen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_opened_total",
			Help:      "Accepted websocket connections.",
		}),
	}
}

// RegisterGauges exposes live room and connection counts sampled on scrape.
func (m *Metrics) RegisterGauges(rooms, conns func() int) {
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms currently registered.",
	}, func() float64 { return float64(rooms()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Websocket connections currently open.",
	}, func() float64 { return float64(conns()) })
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
