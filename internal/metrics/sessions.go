// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted tracks session creation attempts by result.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_sessions_started_total",
		Help: "Total number of session creation attempts by result and reason",
	}, []string{"result", "reason"})

	// SessionsTerminated tracks session terminations by cause.
	SessionsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_sessions_terminated_total",
		Help: "Total number of session terminations by cause",
	}, []string{"cause"})

	// SessionsActive is the current number of supervised sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentmux_sessions_active",
		Help: "Current number of supervised sessions",
	})

	// SessionDuration observes wall-clock session lifetimes.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentmux_session_duration_seconds",
		Help:    "Session lifetime from spawn to exit",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
	})

	// HeartbeatFailures counts heartbeat writes that failed.
	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmux_heartbeat_failures_total",
		Help: "Total number of failed session heartbeat updates",
	})

	// StaleSessionsReclaimed counts sessions reclaimed by the health monitor.
	StaleSessionsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmux_stale_sessions_reclaimed_total",
		Help: "Total number of stale sessions reclaimed by the health monitor",
	})
)

// IncSessionStart records a session creation attempt outcome.
func IncSessionStart(success bool, reason string) {
	result := "failure"
	if success {
		result = "success"
	}
	SessionsStarted.WithLabelValues(result, reason).Inc()
}

// IncSessionTerminated records a session termination by cause
// (exit, terminate, reclaimed, crashed).
func IncSessionTerminated(cause string) {
	SessionsTerminated.WithLabelValues(cause).Inc()
}

// ObserveSessionDuration records a completed session lifetime.
func ObserveSessionDuration(d time.Duration) {
	SessionDuration.Observe(d.Seconds())
}

var (
	// HealthSweepDuration observes health monitor pass durations.
	HealthSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentmux_health_sweep_duration_seconds",
		Help:    "Duration of health monitor sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	// HealthSweepSessions reports the session counts observed by the last sweep.
	HealthSweepSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentmux_health_sweep_sessions",
		Help: "Session counts observed by the last health sweep",
	}, []string{"state"})
)

// RecordHealthSweep records the outcome of one health monitor pass.
func RecordHealthSweep(d time.Duration, total, active, stale, terminated int) {
	HealthSweepDuration.Observe(d.Seconds())
	HealthSweepSessions.WithLabelValues("total").Set(float64(total))
	HealthSweepSessions.WithLabelValues("active").Set(float64(active))
	HealthSweepSessions.WithLabelValues("stale").Set(float64(stale))
	HealthSweepSessions.WithLabelValues("terminated").Set(float64(terminated))
}
