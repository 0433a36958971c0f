// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"time"

	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/deploy"
	"github.com/pria-cloud/buildcore/services/sandbox"
)

// =============================================================================
// Lifecycle Adapters
// =============================================================================

// OperationObserver feeds aiops lifecycle events into Prometheus.
type OperationObserver struct {
	metrics *Metrics
}

var _ aiops.Observer = (*OperationObserver)(nil)

// NewOperationObserver wraps the metrics instance as an aiops observer.
func NewOperationObserver(m *Metrics) *OperationObserver {
	return &OperationObserver{metrics: m}
}

func (o *OperationObserver) OperationSubmitted(kind aiops.Kind) {
	o.metrics.OperationsSubmittedTotal.WithLabelValues(string(kind)).Inc()
}

func (o *OperationObserver) OperationFinished(kind aiops.Kind, state aiops.OpState, retries int, duration time.Duration) {
	o.metrics.OperationsCompletedTotal.WithLabelValues(string(kind), string(state)).Inc()
	if retries > 0 {
		o.metrics.OperationRetriesTotal.WithLabelValues(string(kind)).Add(float64(retries))
	}
	o.metrics.OperationDurationSeconds.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// PipelineObserver feeds deploy lifecycle events into Prometheus.
type PipelineObserver struct {
	metrics *Metrics
}

var _ deploy.Observer = (*PipelineObserver)(nil)

// NewPipelineObserver wraps the metrics instance as a deploy observer.
func NewPipelineObserver(m *Metrics) *PipelineObserver {
	return &PipelineObserver{metrics: m}
}

func (o *PipelineObserver) RunStarted(deploy.Environment) {}

func (o *PipelineObserver) RunFinished(env deploy.Environment, state deploy.RunState, _ string) {
	o.metrics.PipelineRunsTotal.WithLabelValues(string(env), string(state)).Inc()
}

func (o *PipelineObserver) CanaryDecided(decision deploy.CanaryDecision) {
	o.metrics.CanaryDecisionsTotal.WithLabelValues(string(decision)).Inc()
}

// SweepRecorder returns a reaper callback recording sweep outcomes.
func SweepRecorder(m *Metrics) func(sandbox.ReapResult) {
	return func(result sandbox.ReapResult) {
		if result.Expired > 0 {
			m.SandboxesReapedTotal.WithLabelValues("deadline").Add(float64(result.Expired))
		}
		if result.Idle > 0 {
			m.SandboxesReapedTotal.WithLabelValues("idle").Add(float64(result.Idle))
		}
		if result.Failures > 0 {
			m.SandboxTeardownFailuresTotal.Add(float64(result.Failures))
		}
	}
}
