// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import "time"

// =============================================================================
// Environments
// =============================================================================

// Environment is the deployment target class.
type Environment string

const (
	EnvPreview    Environment = "preview"
	EnvProduction Environment = "production"
)

// Valid reports whether the environment is a supported target.
func (e Environment) Valid() bool {
	return e == EnvPreview || e == EnvProduction
}

// =============================================================================
// Stages
// =============================================================================

// StageName identifies one step of the fixed pipeline sequence.
type StageName string

const (
	StageCheckout StageName = "checkout"
	StageInstall  StageName = "install"
	StageTest     StageName = "test"
	StageBuild    StageName = "build"
	StageDeploy   StageName = "deploy"
)

// stageOrder is the fixed execution sequence. Stage N+1 never starts before
// stage N succeeds; a failed stage halts everything after it.
var stageOrder = []StageName{StageCheckout, StageInstall, StageTest, StageBuild, StageDeploy}

// StageStatus is the lifecycle state of one stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Stage is one recorded step of a pipeline run.
type Stage struct {
	Name     StageName   `json:"name"`
	Position int         `json:"position"`
	Status   StageStatus `json:"status"`

	// Commands are opaque shell invocations; the pipeline reads nothing
	// from them beyond exit code and captured output.
	Commands []string `json:"commands"`
	Log      []string `json:"log,omitempty"`
	ExitCode int      `json:"exit_code"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// Canary
// =============================================================================

// CanarySample is one error-rate observation taken during the canary window.
type CanarySample struct {
	At        time.Time `json:"at"`
	ErrorRate float64   `json:"error_rate"`
}

// CanaryDecision is the single outcome of a canary observation window.
type CanaryDecision string

const (
	CanaryPromoted   CanaryDecision = "promoted"
	CanaryRolledBack CanaryDecision = "rolled_back"
)

// CanarySnapshot records the canary gate's traffic split, samples, and
// final decision for the run's audit record.
type CanarySnapshot struct {
	TrafficPercent int            `json:"traffic_percent"`
	Samples        []CanarySample `json:"samples,omitempty"`
	Decision       CanaryDecision `json:"decision,omitempty"`
}

// =============================================================================
// Pipeline Runs
// =============================================================================

// RunState is the overall state of a pipeline run.
type RunState string

const (
	RunRunning     RunState = "running"
	RunCanarying   RunState = "canarying"
	RunSucceeded   RunState = "succeeded"
	RunFailed      RunState = "failed"
	RunRollingBack RunState = "rolling_back"
	RunRolledBack  RunState = "rolled_back"
)

// Terminal reports whether the run can change no further.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunRolledBack
}

// PipelineRun is one execution of the staged deploy sequence for an
// application+environment pair. Once terminal it is an immutable audit
// record; callers always receive copies.
type PipelineRun struct {
	ID          string      `json:"id"`
	AppID       string      `json:"app_id"`
	Environment Environment `json:"environment"`
	ArtifactRef string      `json:"artifact_ref"`

	State         RunState        `json:"state"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Stages        []Stage         `json:"stages"`
	Canary        *CanarySnapshot `json:"canary,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand outside the manager.
func (r *PipelineRun) Clone() *PipelineRun {
	cp := *r
	cp.Stages = make([]Stage, len(r.Stages))
	for i, s := range r.Stages {
		cs := s
		if s.StartedAt != nil {
			t := *s.StartedAt
			cs.StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			cs.CompletedAt = &t
		}
		cs.Commands = append([]string(nil), s.Commands...)
		cs.Log = append([]string(nil), s.Log...)
		cp.Stages[i] = cs
	}
	if r.Canary != nil {
		c := *r.Canary
		c.Samples = append([]CanarySample(nil), r.Canary.Samples...)
		cp.Canary = &c
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Machine-readable failure reasons recorded on terminal runs.
const (
	ReasonStageFailed     = "StageFailed"
	ReasonCanaryThreshold = "CanaryThresholdExceeded"
	ReasonTrafficShift    = "TrafficShiftFailed"
)
