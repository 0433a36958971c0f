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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pria-cloud/buildcore/services/sandbox"
)

// =============================================================================
// Worker
// =============================================================================

// process runs one operation end to end: AI call with retries, optional
// sandbox validation of any generated code, terminal transition.
func (o *Orchestrator) process(opID string) {
	op, ok := o.beginRunning(opID)
	if !ok {
		// Cancelled while queued, or evicted; nothing to run.
		return
	}

	result, reason, err := o.runAttempts(op)

	// A cancel that landed while we were generating wins over the outcome.
	if state, _ := o.stateOf(opID); state == OpCancelling {
		o.finish(opID, OpCancelled, ReasonCancelled, nil)
		return
	}
	if err != nil {
		slog.Warn("Operation failed",
			"operation_id", opID, "reason", reason, "error", err)
		o.finish(opID, OpFailed, reason, nil)
		return
	}

	o.finish(opID, OpSucceeded, "", result)
}

// beginRunning moves a queued operation to running. Returns false when the
// operation is no longer runnable.
func (o *Orchestrator) beginRunning(opID string) (*Operation, bool) {
	o.mu.Lock()
	op, ok := o.ops[opID]
	if !ok || op.State != OpQueued {
		o.mu.Unlock()
		return nil, false
	}
	o.applyTransitionLocked(op, OpRunning, "")
	cp := op.Clone()
	o.mu.Unlock()

	o.persist(context.Background(), cp)
	return cp, true
}

// runAttempts calls the AI backend with the configured retry budget, then
// validates any generated code in a sandbox. On failure it returns the
// machine-readable reason for the terminal record.
func (o *Orchestrator) runAttempts(op *Operation) (*Result, string, error) {
	req := GenerateRequest{
		Kind:    op.Kind,
		Prompt:  op.Payload.Prompt,
		Context: op.Payload.Context,
	}

	var gen GenerateResult
	var err error
	for attempt := 0; ; attempt++ {
		if state, ok := o.stateOf(op.ID); !ok || state == OpCancelling {
			return nil, ReasonCancelled, errors.New("operation cancelled")
		}

		callCtx, cancel := context.WithTimeout(o.ctx, o.config.BackendTimeout)
		gen, err = o.backend.Generate(callCtx, req)
		cancel()
		if err == nil {
			break
		}
		if !retriable(err) || attempt >= o.config.MaxRetries {
			return nil, failureReason(err), err
		}

		o.recordRetry(op.ID, err)
		backoff := o.config.RetryBackoffBase << attempt
		select {
		case <-time.After(backoff):
		case <-o.ctx.Done():
			return nil, ReasonExternalService, o.ctx.Err()
		}
	}

	result := &Result{
		Content:       gen.Content,
		FilesModified: gen.FilesModified,
	}
	if gen.Code == "" || o.sandboxes == nil {
		return result, "", nil
	}

	exec, reason, err := o.validateInSandbox(op, gen.Code)
	if err != nil {
		return nil, reason, err
	}
	result.Execution = exec
	return result, "", nil
}

// validateInSandbox runs generated code in a fresh sandbox and returns the
// execution record. The sandbox is always released afterwards.
func (o *Orchestrator) validateInSandbox(op *Operation, code string) (*sandbox.ExecutionResult, string, error) {
	handle, err := o.sandboxes.Create(o.ctx, op.TenantID, sandbox.Config{
		Template: op.Payload.SandboxTemplate,
		Labels: map[string]string{
			"session":   op.SessionID,
			"operation": op.ID,
		},
	})
	if err != nil {
		return nil, ReasonExternalService, err
	}
	defer func() {
		if rerr := o.sandboxes.Release(context.WithoutCancel(o.ctx), handle); rerr != nil {
			slog.Warn("Failed to release validation sandbox",
				"operation_id", op.ID, "sandbox_id", handle.ID, "error", rerr)
		}
	}()

	exec, err := o.sandboxes.Execute(o.ctx, handle, code, o.config.ExecuteTimeout)
	if err != nil {
		if errors.Is(err, sandbox.ErrExecutionTimeout) {
			return nil, ReasonTimeout, err
		}
		return nil, ReasonExternalService, err
	}
	return &exec, "", nil
}

// recordRetry bumps the retry counter with a running → running transition so
// the attempt history is visible in the record.
func (o *Orchestrator) recordRetry(opID string, cause error) {
	o.mu.Lock()
	op, ok := o.ops[opID]
	if !ok || op.State != OpRunning {
		o.mu.Unlock()
		return
	}
	op.RetryCount++
	op.Transitions = append(op.Transitions, Transition{
		From:   OpRunning,
		To:     OpRunning,
		At:     time.Now(),
		Reason: "retry: " + cause.Error(),
	})
	cp := op.Clone()
	o.mu.Unlock()

	o.persist(context.Background(), cp)
	slog.Info("Retrying operation",
		"operation_id", opID, "retry", cp.RetryCount, "cause", cause)
}

// failureReason maps a backend error to the recorded failure reason.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBackendRejected):
		return ReasonValidation
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonExternalService
	}
}
