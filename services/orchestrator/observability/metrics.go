// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the request
// pipeline. Metrics include:
//   - Request counters (by operation, status, degradation)
//   - Latency histograms (per pipeline stage)
//   - Circuit breaker state gauges
//   - Admission and session gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
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
const metricsNamespace = "insight"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the request pipeline.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring request flow,
// degradation, and resilience state. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of pipeline requests by operation and status
//   - DegradedTotal: Counter of degraded responses by operation and reason
//   - StageDurationSeconds: Histogram of per-stage latency
//   - BreakerState: Gauge of breaker state per dependency
//   - ActiveRequests: Gauge of admitted in-flight requests
//   - QueuedRequests: Gauge of requests waiting for admission
//   - ActiveSessions: Gauge of live conversation sessions
//   - QualityScore: Histogram of response quality scores
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts pipeline requests by operation and status.
	// Labels: operation (chat, analyze, recommendations), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// DegradedTotal counts degraded responses.
	// Labels: operation, reason (circuit_open, generation_failed)
	DegradedTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage pipeline latency.
	// Labels: operation, stage (context_fetch, generation, total)
	StageDurationSeconds *prometheus.HistogramVec

	// BreakerState reports the breaker state per dependency.
	// Labels: dependency. Values: 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec

	// ActiveRequests tracks admitted in-flight requests.
	ActiveRequests prometheus.Gauge

	// QueuedRequests tracks requests waiting for an admission slot.
	QueuedRequests prometheus.Gauge

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions prometheus.Gauge

	// QualityScore observes response quality scores.
	// Labels: operation
	QualityScore *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *PipelineMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total pipeline requests by operation and status",
			},
			[]string{"operation", "status"},
		),

		DegradedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "degraded_total",
				Help:      "Total degraded responses by operation and reason",
			},
			[]string{"operation", "reason"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"operation", "stage"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
			},
			[]string{"dependency"},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_requests",
				Help:      "Admitted in-flight requests",
			},
		),

		QueuedRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "queued_requests",
				Help:      "Requests waiting for an admission slot",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_sessions",
				Help:      "Live conversation sessions",
			},
		),

		QualityScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "quality_score",
				Help:      "Response quality scores",
				Buckets:   []float64{0.1, 0.25, 0.5, 0.65, 0.8, 0.9, 1.0},
			},
			[]string{"operation"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// Operation labels a pipeline operation for metrics.
type Operation string

const (
	// OperationChat is the conversational chat operation.
	OperationChat Operation = "chat"

	// OperationAnalyze is the one-shot analysis operation.
	OperationAnalyze Operation = "analyze"

	// OperationRecommendations is the recommendations operation.
	OperationRecommendations Operation = "recommendations"
)

// DegradationReason labels why a response was degraded.
type DegradationReason string

const (
	// ReasonCircuitOpen means the generation breaker rejected the call.
	ReasonCircuitOpen DegradationReason = "circuit_open"

	// ReasonGenerationFailed means the single generation attempt failed.
	ReasonGenerationFailed DegradationReason = "generation_failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed pipeline request.
func (m *PipelineMetrics) RecordRequest(op Operation, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(op), status).Inc()
}

// RecordDegraded records a degraded response.
func (m *PipelineMetrics) RecordDegraded(op Operation, reason DegradationReason) {
	m.DegradedTotal.WithLabelValues(string(op), string(reason)).Inc()
}

// RecordStageDuration records one pipeline stage's latency.
func (m *PipelineMetrics) RecordStageDuration(op Operation, stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(string(op), stage).Observe(seconds)
}

// RecordQualityScore observes a response quality score.
func (m *PipelineMetrics) RecordQualityScore(op Operation, score float64) {
	m.QualityScore.WithLabelValues(string(op)).Observe(score)
}

// SetBreakerState reports a breaker state change.
//
// # Inputs
//
//   - dependency: The protected dependency name.
//   - state: 0 closed, 1 half-open, 2 open.
func (m *PipelineMetrics) SetBreakerState(dependency string, state float64) {
	m.BreakerState.WithLabelValues(dependency).Set(state)
}

// SetAdmission reports the current admission gauge values.
func (m *PipelineMetrics) SetAdmission(active, queued int) {
	m.ActiveRequests.Set(float64(active))
	m.QueuedRequests.Set(float64(queued))
}

// SetActiveSessions reports the live session count.
func (m *PipelineMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
