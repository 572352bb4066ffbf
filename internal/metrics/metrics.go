// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botyard"

var (
	// StreamFlushes counts aggregator flushes. Labels: kind (send, edit),
	// mode (plain, rich), status (success, error).
	StreamFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "flushes_total",
		Help:      "Chat message sends and edits performed by response aggregators.",
	}, []string{"kind", "mode", "status"})

	// ActiveStreams is the number of aggregators currently draining.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "active",
		Help:      "Response aggregators currently running.",
	})

	// StreamDuration measures time from aggregator start to termination.
	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "duration_seconds",
		Help:      "Lifetime of a response aggregator.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// RunningBots is the number of bot loops currently alive.
	RunningBots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fleet",
		Name:      "running_bots",
		Help:      "Bot event loops currently alive.",
	})

	// BotRestarts counts loops restarted by reconciliation.
	BotRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fleet",
		Name:      "restarts_total",
		Help:      "Bot loops restarted after dying.",
	})

	// HandlerFailures counts events that were not handled. Labels: reason
	// (error, malformed, panic, overflow).
	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fleet",
		Name:      "handler_failures_total",
		Help:      "Inbound events whose handling failed.",
	}, []string{"reason"})

	// Registrations counts bot registration attempts. Labels: result.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fleet",
		Name:      "registrations_total",
		Help:      "Bot registration attempts by outcome.",
	}, []string{"result"})

	// IngestedChunks counts chunks written to the vector store.
	IngestedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rag",
		Name:      "ingested_chunks_total",
		Help:      "Document chunks embedded and stored.",
	})
)
