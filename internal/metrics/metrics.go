// Package metrics exposes Prometheus instrumentation for sessions, the
// output bridges and WebSocket clients.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive       prometheus.Gauge
	SessionsStarted      prometheus.Counter
	SessionStartFailures *prometheus.CounterVec
	SessionsKilled       prometheus.Counter

	BridgeBytes  prometheus.Counter
	BridgeEvents *prometheus.CounterVec

	WSClients prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "telterm_sessions_active",
			Help: "Number of sessions whose output bridge is still running",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "telterm_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionStartFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telterm_session_start_failures_total",
				Help: "Total number of failed session starts",
			},
			[]string{"reason"},
		),
		SessionsKilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "telterm_sessions_killed_total",
			Help: "Total number of sessions removed by kill",
		}),

		BridgeBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "telterm_bridge_bytes_total",
			Help: "Decoded bytes forwarded from telnet clients",
		}),
		BridgeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telterm_bridge_events_total",
				Help: "Bridge events emitted, by type",
			},
			[]string{"type"},
		),

		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "telterm_ws_clients",
			Help: "Number of connected WebSocket clients",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
