package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total number of sessions that reached the active state",
		},
		[]string{"browser"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Total number of sessions torn down, by reason",
		},
		[]string{"browser", "reason"},
	)

	SessionLaunchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "session",
			Name:      "launch_failures_total",
			Help:      "Total number of engine launches that never reached active",
		},
		[]string{"browser"},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forceps",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently active sessions",
		},
		[]string{"browser"},
	)

	// Action pipeline metrics
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "action",
			Name:      "executed_total",
			Help:      "Total number of actions executed, by action and outcome",
		},
		[]string{"action", "status"},
	)

	ActionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "action",
			Name:      "errors_total",
			Help:      "Total number of failed actions, by classified error kind",
		},
		[]string{"action", "kind"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forceps",
			Subsystem: "action",
			Name:      "duration_seconds",
			Help:      "Wall time of action execution, excluding the wait for the session token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	TokenWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forceps",
			Subsystem: "action",
			Name:      "token_wait_seconds",
			Help:      "Time actions spent waiting for their session's serialization token",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	ScreenshotFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "action",
			Name:      "screenshot_failures_total",
			Help:      "Number of best-effort screenshot captures that returned nothing",
		},
	)

	// Event feed metrics
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Number of events dropped because a subscriber could not keep up",
		},
	)

	// Journal metrics
	JournalWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forceps",
			Subsystem: "journal",
			Name:      "write_failures_total",
			Help:      "Number of audit records that could not be persisted",
		},
	)
)
