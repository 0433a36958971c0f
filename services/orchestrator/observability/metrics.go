// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover the three managed resources:
//   - AI operations (submitted/rejected/completed, retries, duration)
//   - Sandboxes (reap sweeps, teardown failures)
//   - Pipelines (runs by outcome, canary decisions)
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

// Namespace for all metrics
const metricsNamespace = "buildcore"

// Metrics holds all Prometheus metrics for the orchestrator.
//
// # Description
//
// Initialize once at startup via InitMetrics(); registration with the
// default registry panics on a second call.
type Metrics struct {
	// OperationsSubmittedTotal counts accepted operation submissions.
	// Labels: kind (generation, review, debug, optimize)
	OperationsSubmittedTotal *prometheus.CounterVec

	// OperationsRejectedTotal counts synchronous submission rejections.
	// Labels: reason (session_busy, rate_limited, validation)
	OperationsRejectedTotal *prometheus.CounterVec

	// OperationsCompletedTotal counts terminal operations.
	// Labels: kind, state (succeeded, failed, cancelled)
	OperationsCompletedTotal *prometheus.CounterVec

	// OperationRetriesTotal counts backend retries absorbed by workers.
	// Labels: kind
	OperationRetriesTotal *prometheus.CounterVec

	// OperationDurationSeconds measures submit-to-terminal latency.
	// Labels: kind
	OperationDurationSeconds *prometheus.HistogramVec

	// SandboxesReapedTotal counts sandboxes reclaimed by the reaper.
	// Labels: cause (deadline, idle)
	SandboxesReapedTotal *prometheus.CounterVec

	// SandboxTeardownFailuresTotal counts failed provider teardowns
	// observed during reap sweeps.
	SandboxTeardownFailuresTotal prometheus.Counter

	// PipelineRunsTotal counts terminal pipeline runs.
	// Labels: environment (preview, production), state (succeeded, failed,
	// rolled_back)
	PipelineRunsTotal *prometheus.CounterVec

	// CanaryDecisionsTotal counts canary gate outcomes.
	// Labels: decision (promoted, rolled_back)
	CanaryDecisionsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of Metrics.
// Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = newMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// newMetrics registers all metrics against the given registerer. Tests use
// an isolated registry to avoid duplicate-registration panics.
func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ops",
				Name:      "submitted_total",
				Help:      "Total accepted operation submissions by kind",
			},
			[]string{"kind"},
		),

		OperationsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ops",
				Name:      "rejected_total",
				Help:      "Total operation submissions rejected at the API boundary",
			},
			[]string{"reason"},
		),

		OperationsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ops",
				Name:      "completed_total",
				Help:      "Total operations reaching a terminal state by kind and state",
			},
			[]string{"kind", "state"},
		),

		OperationRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ops",
				Name:      "retries_total",
				Help:      "Total AI backend retries absorbed by workers",
			},
			[]string{"kind"},
		),

		OperationDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "ops",
				Name:      "duration_seconds",
				Help:      "Operation duration from submission to terminal state",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		SandboxesReapedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sandbox",
				Name:      "reaped_total",
				Help:      "Total sandboxes reclaimed by the reaper by cause",
			},
			[]string{"cause"},
		),

		SandboxTeardownFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sandbox",
				Name:      "teardown_failures_total",
				Help:      "Total failed provider teardowns observed during reap sweeps",
			},
		),

		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total terminal pipeline runs by environment and state",
			},
			[]string{"environment", "state"},
		),

		CanaryDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "canary_decisions_total",
				Help:      "Total canary gate outcomes",
			},
			[]string{"decision"},
		),
	}
}
