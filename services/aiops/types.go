// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiops

import (
	"time"

	"github.com/pria-cloud/buildcore/services/sandbox"
)

// =============================================================================
// Operation Kinds
// =============================================================================

// Kind classifies an AI-assisted operation.
type Kind string

const (
	KindGeneration Kind = "generation"
	KindReview     Kind = "review"
	KindDebug      Kind = "debug"
	KindOptimize   Kind = "optimize"
)

// Valid reports whether the kind is one of the supported operation kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGeneration, KindReview, KindDebug, KindOptimize:
		return true
	}
	return false
}

// =============================================================================
// Operation State Machine
// =============================================================================

// OpState is the lifecycle state of an operation.
//
// Transitions:
//
//	queued → running → succeeded | failed | cancelled
//	running → running (retry, retry count increments)
//	queued | running → cancelling → cancelled
//
// States are monotonic: an operation never revisits queued after leaving it,
// and terminal states are final.
type OpState string

const (
	OpQueued     OpState = "queued"
	OpRunning    OpState = "running"
	OpCancelling OpState = "cancelling"
	OpSucceeded  OpState = "succeeded"
	OpFailed     OpState = "failed"
	OpCancelled  OpState = "cancelled"
)

// Terminal reports whether the state can never be left.
func (s OpState) Terminal() bool {
	return s == OpSucceeded || s == OpFailed || s == OpCancelled
}

// =============================================================================
// Records
// =============================================================================

// Payload is the caller-supplied input for an operation.
type Payload struct {
	// Prompt is the natural-language instruction for the AI backend.
	Prompt string `json:"prompt"`

	// Context carries session context (current requirements, prior turns).
	Context string `json:"context,omitempty"`

	// SandboxTemplate selects the sandbox image used to validate generated
	// code. Empty means the pool default.
	SandboxTemplate string `json:"sandbox_template,omitempty"`
}

// Result is the terminal outcome of a successful operation.
type Result struct {
	Content       string                   `json:"content"`
	FilesModified []string                 `json:"files_modified,omitempty"`
	Execution     *sandbox.ExecutionResult `json:"execution,omitempty"`
}

// Transition is one recorded state change. The transition log is
// append-mostly: entries are added, never rewritten.
type Transition struct {
	From   OpState   `json:"from"`
	To     OpState   `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Operation is the full record of one AI-assisted unit of work.
//
// Mutated only by the Orchestrator; immutable once terminal. Callers always
// receive copies.
type Operation struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	SessionID string  `json:"session_id"`
	Kind      Kind    `json:"kind"`
	Payload   Payload `json:"payload"`

	State         OpState `json:"state"`
	RetryCount    int     `json:"retry_count"`
	FailureReason string  `json:"failure_reason,omitempty"`
	Result        *Result `json:"result,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Transitions []Transition `json:"transitions"`
}

// Clone returns a deep-enough copy safe to hand outside the orchestrator.
func (o *Operation) Clone() *Operation {
	cp := *o
	if o.StartedAt != nil {
		t := *o.StartedAt
		cp.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	if o.Result != nil {
		r := *o.Result
		cp.Result = &r
	}
	cp.Transitions = append([]Transition(nil), o.Transitions...)
	return &cp
}

// Machine-readable failure reasons recorded on terminal operations.
const (
	ReasonValidation      = "ValidationError"
	ReasonExternalService = "ExternalServiceError"
	ReasonTimeout         = "TimeoutError"
	ReasonCancelled       = "Cancelled"
)
