package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the server's prometheus instruments, registered on a private
// registry so tests can run servers side by side.
type metrics struct {
	registry *prometheus.Registry

	streamsStarted *prometheus.CounterVec
	envelopesSent  *prometheus.CounterVec
	streamFailures *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		streamsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stylemuse",
			Name:      "streams_started_total",
			Help:      "Streaming invocations started, by agent.",
		}, []string{"agent"}),
		envelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stylemuse",
			Name:      "envelopes_sent_total",
			Help:      "Wire envelopes sent to clients, by agent and kind.",
		}, []string{"agent", "kind"}),
		streamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stylemuse",
			Name:      "stream_failures_total",
			Help:      "Streaming invocations that could not start, by agent.",
		}, []string{"agent"}),
	}
}
