// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the triage
// service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the error-routing
// pipeline. Metrics include:
//   - Routing outcomes (dispatched, linked, skipped, failed)
//   - Skip counters by gate (cooldown, dedup window, rate limit, AI duplicate)
//   - Dispatch and analysis latency histograms
//   - Quota and active-session gauges
//   - Webhook and ingest counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for triage metrics
const triageSubsystem = "triage"

// TriageMetrics holds all Prometheus metrics for the routing pipeline.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring routing decisions
// and upstream calls. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - RoutedTotal: Counter of route calls by outcome
//   - SkipsTotal: Counter of gate skips by reason
//   - DispatchDurationSeconds: Histogram of repair-API call duration
//   - AnalysisDurationSeconds: Histogram of AI duplicate-check duration
//   - AnalysisFallbacksTotal: Counter of degraded (fail-open) analyses
//   - QuotaRemaining: Gauge of remaining hourly dispatch budget
//   - ActiveSessions: Gauge of in-flight repair sessions
//   - WebhookEventsTotal: Counter of received webhook deliveries
//   - IngestRejectedTotal: Counter of rate-limited ingest requests
//
// # Thread Safety
//
// All operations are thread-safe.
type TriageMetrics struct {
	// RoutedTotal counts route calls by terminal outcome.
	// Labels: outcome (dispatched, linked, skipped, failed)
	RoutedTotal *prometheus.CounterVec

	// SkipsTotal counts gate skips by machine-readable reason.
	// Labels: reason (severity_below_threshold, feature_disabled,
	// in_cooldown, active_session, duplicate_window, rate_limit,
	// ai_duplicate)
	SkipsTotal *prometheus.CounterVec

	// DispatchDurationSeconds measures the repair-API session call.
	// Labels: status (success, error)
	DispatchDurationSeconds *prometheus.HistogramVec

	// AnalysisDurationSeconds measures the AI duplicate check.
	AnalysisDurationSeconds prometheus.Histogram

	// AnalysisFallbacksTotal counts analyses that degraded to the
	// fail-open fallback verdict.
	AnalysisFallbacksTotal prometheus.Counter

	// QuotaRemaining tracks the remaining hourly dispatch budget.
	QuotaRemaining prometheus.Gauge

	// ActiveSessions tracks in-flight repair sessions.
	ActiveSessions prometheus.Gauge

	// WebhookEventsTotal counts webhook deliveries by event and action.
	// Labels: event (pull_request, ping), action (closed, opened, ...)
	WebhookEventsTotal *prometheus.CounterVec

	// IngestRejectedTotal counts ingest requests refused by the
	// HTTP-level rate limiter.
	IngestRejectedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of TriageMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TriageMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *TriageMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *TriageMetrics {
	DefaultMetrics = &TriageMetrics{
		RoutedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "routed_total",
				Help:      "Total route calls by terminal outcome",
			},
			[]string{"outcome"},
		),

		SkipsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "skips_total",
				Help:      "Total gate skips by reason",
			},
			[]string{"reason"},
		),

		DispatchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "dispatch_duration_seconds",
				Help:      "Repair-API session call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"status"},
		),

		AnalysisDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "analysis_duration_seconds",
				Help:      "AI duplicate-check duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		AnalysisFallbacksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "analysis_fallbacks_total",
				Help:      "Analyses that degraded to the fail-open fallback verdict",
			},
		),

		QuotaRemaining: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "quota_remaining",
				Help:      "Remaining hourly dispatch budget",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "active_sessions",
				Help:      "In-flight repair sessions",
			},
		),

		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by event and action",
			},
			[]string{"event", "action"},
		),

		IngestRejectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: triageSubsystem,
				Name:      "ingest_rejected_total",
				Help:      "Ingest requests refused by the HTTP rate limiter",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Outcome Names
// =============================================================================

// Outcome labels a route call's terminal state for metrics.
type Outcome string

const (
	// OutcomeDispatched indicates a repair session was created.
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeLinked indicates the error was tied to existing work.
	OutcomeLinked Outcome = "linked"

	// OutcomeSkipped indicates a policy gate stopped the error.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed indicates a configuration or upstream failure.
	OutcomeFailed Outcome = "failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRouted records a completed route call.
//
// # Inputs
//
//   - outcome: The terminal state of the call.
func (m *TriageMetrics) RecordRouted(outcome Outcome) {
	if m == nil {
		return
	}
	m.RoutedTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordSkip records a gate skip.
//
// # Inputs
//
//   - reason: Machine-readable skip reason.
func (m *TriageMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.SkipsTotal.WithLabelValues(reason).Inc()
}

// RecordDispatch records a repair-API call duration.
//
// # Inputs
//
//   - seconds: Call duration in seconds.
//   - success: Whether a session was created.
func (m *TriageMetrics) RecordDispatch(seconds float64, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.DispatchDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordAnalysis records an AI duplicate-check duration.
//
// # Inputs
//
//   - seconds: Check duration in seconds.
//   - fallback: Whether the verdict was the fail-open fallback.
func (m *TriageMetrics) RecordAnalysis(seconds float64, fallback bool) {
	if m == nil {
		return
	}
	m.AnalysisDurationSeconds.Observe(seconds)
	if fallback {
		m.AnalysisFallbacksTotal.Inc()
	}
}

// SetQuotaRemaining updates the quota gauge.
func (m *TriageMetrics) SetQuotaRemaining(n int) {
	if m == nil {
		return
	}
	m.QuotaRemaining.Set(float64(n))
}

// SetActiveSessions updates the active-session gauge.
func (m *TriageMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordWebhook records a received webhook delivery.
//
// # Inputs
//
//   - event: Webhook event name (e.g. pull_request).
//   - action: Event action (e.g. closed); may be empty.
func (m *TriageMetrics) RecordWebhook(event, action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "none"
	}
	m.WebhookEventsTotal.WithLabelValues(event, action).Inc()
}

// RecordIngestRejected counts a rate-limited ingest request.
func (m *TriageMetrics) RecordIngestRejected() {
	if m == nil {
		return
	}
	m.IngestRejectedTotal.Inc()
}
