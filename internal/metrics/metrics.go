// Package metrics exposes Prometheus metrics for wave runs, ticket
// lifecycle operations, and gateway errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// Usage:
//
//	metrics := metrics.New(nil) // nil uses the default registry
//	metrics.WaveTarget("demote", "succeeded")
//	defer metrics.WaveDuration.WithLabelValues("demote").Observe(time.Since(start).Seconds())
type Metrics struct {
	// WaveTargets counts processed wave targets.
	// Labels: kind (promote|demote), outcome (succeeded|not_found|failed)
	WaveTargets *prometheus.CounterVec

	// WaveDuration measures full wave run time in seconds.
	// Labels: kind
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	WaveDuration *prometheus.HistogramVec

	// WaveSessions is a gauge tracking currently staged wave sessions.
	WaveSessions prometheus.Gauge

	// TicketOperations counts ticket lifecycle operations.
	// Labels: operation (open|claim|unclaim|priority|status|done|confirm|access|close), status (success|error)
	TicketOperations *prometheus.CounterVec

	// OpenTickets is a gauge tracking tracked open tickets per guild.
	// Labels: guild_id
	OpenTickets *prometheus.GaugeVec

	// GatewayErrors counts classified platform errors.
	// Labels: code
	GatewayErrors *prometheus.CounterVec

	// ResolveOutcomes counts identity resolution results.
	// Labels: confidence (exact-id|exact-name|closest-match|none)
	ResolveOutcomes *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics against reg.
// A nil registerer uses the default registry. Call once at startup.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		WaveTargets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildops_wave_targets_total",
				Help: "Total number of wave targets processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		WaveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guildops_wave_duration_seconds",
				Help:    "Duration of full wave runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),

		WaveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guildops_wave_sessions",
				Help: "Current number of staged wave sessions",
			},
		),

		TicketOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildops_ticket_operations_total",
				Help: "Total number of ticket lifecycle operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		OpenTickets: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guildops_open_tickets",
				Help: "Current number of tracked open tickets by guild",
			},
			[]string{"guild_id"},
		),

		GatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildops_gateway_errors_total",
				Help: "Total number of platform gateway errors by classified code",
			},
			[]string{"code"},
		),

		ResolveOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildops_resolve_outcomes_total",
				Help: "Total number of identity resolution attempts by confidence",
			},
			[]string{"confidence"},
		),
	}
}

// WaveTarget records a single processed wave target.
func (m *Metrics) WaveTarget(kind, outcome string) {
	m.WaveTargets.WithLabelValues(kind, outcome).Inc()
}

// SessionStaged increments the staged session gauge.
func (m *Metrics) SessionStaged() {
	m.WaveSessions.Inc()
}

// SessionEnded decrements the staged session gauge.
func (m *Metrics) SessionEnded() {
	m.WaveSessions.Dec()
}

// TicketOperation records a ticket lifecycle operation outcome.
func (m *Metrics) TicketOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TicketOperations.WithLabelValues(operation, status).Inc()
}

// GatewayError records a classified platform error.
func (m *Metrics) GatewayError(code string) {
	m.GatewayErrors.WithLabelValues(code).Inc()
}

// ResolveOutcome records an identity resolution result.
func (m *Metrics) ResolveOutcome(confidence string) {
	m.ResolveOutcomes.WithLabelValues(confidence).Inc()
}
