// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aiops queues and executes AI-driven development operations
// (code generation, review, debug, optimize) against development sessions.
//
// # Dispatch Model
//
// Every tenant has its own FIFO queue so submissions from one tenant are
// dispatched in order and one tenant cannot starve the others. A global
// semaphore bounds concurrent workers across all tenants. Each worker calls
// the AI backend, optionally validates generated code in a sandbox, and
// drives the operation record to a terminal state.
//
// # Invariants
//
//   - At most one non-terminal operation per session at any time. The
//     check-and-set on the session's active-operation slot is a single
//     atomic transition under the orchestrator lock.
//   - Operation states are monotonic: queued → running → terminal, with
//     running → running on retry. Terminal states are final.
//   - Every state transition is appended to the record's transition log and
//     persisted, so progress can be observed by polling and survives
//     restarts.
package aiops

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pria-cloud/buildcore/services/sandbox"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// SandboxRunner is the slice of the sandbox pool the orchestrator needs to
// validate generated code.
type SandboxRunner interface {
	Create(ctx context.Context, tenantID string, cfg sandbox.Config) (sandbox.Handle, error)
	Execute(ctx context.Context, h sandbox.Handle, code string, timeout time.Duration) (sandbox.ExecutionResult, error)
	Release(ctx context.Context, h sandbox.Handle) error
}

// Observer receives operation lifecycle notifications, typically to feed
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	OperationSubmitted(kind Kind)
	OperationFinished(kind Kind, state OpState, retries int, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) OperationSubmitted(Kind) {}

func (nopObserver) OperationFinished(Kind, OpState, int, time.Duration) {}

// =============================================================================
// Configuration
// =============================================================================

// OrchestratorConfig holds tunable limits for operation dispatch.
//
// # Fields
//
//   - Workers: Global concurrency ceiling across all tenants. Default: 50.
//   - MaxRetries: Retry budget for transient backend failures. Default: 2.
//   - RetryBackoffBase: First retry delay, doubled per attempt. Default: 500ms.
//   - BackendTimeout: Deadline for one AI backend call. Default: 60s.
//   - ExecuteTimeout: Deadline for sandbox validation of generated code.
//     Default: 2 minutes.
//   - QueueDepth: Per-tenant queue capacity. Default: 256.
//   - Rate: Per-tenant RPM budgets (see RateConfig).
type OrchestratorConfig struct {
	Workers          int
	MaxRetries       int
	RetryBackoffBase time.Duration
	BackendTimeout   time.Duration
	ExecuteTimeout   time.Duration
	QueueDepth       int
	Rate             RateConfig

	// Observer receives lifecycle notifications. Nil means none.
	Observer Observer
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:          50,
		MaxRetries:       2,
		RetryBackoffBase: 500 * time.Millisecond,
		BackendTimeout:   60 * time.Second,
		ExecuteTimeout:   2 * time.Minute,
		QueueDepth:       256,
		Rate:             DefaultRateConfig(),
	}
}

func applyOrchestratorDefaults(cfg OrchestratorConfig) OrchestratorConfig {
	def := DefaultOrchestratorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = def.RetryBackoffBase
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = def.ExecuteTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return cfg
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator accepts, schedules, and tracks AI operations.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Orchestrator struct {
	config    OrchestratorConfig
	backend   Backend
	sandboxes SandboxRunner
	store     Store
	limiter   *tenantLimiter
	sem       *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	ops      map[string]*Operation
	sessions map[string]string // tenant/session → active operation id
	queues   map[string]chan string
	closed   bool
}

// NewOrchestrator wires an orchestrator from its collaborators.
//
// # Inputs
//
//   - backend: AI generation backend. Required.
//   - sandboxes: Sandbox pool slice for code validation. May be nil; code
//     blocks are then attached unvalidated.
//   - store: Durable operation record store. Required.
//   - cfg: Limits. Zero values use defaults.
func NewOrchestrator(backend Backend, sandboxes SandboxRunner, store Store, cfg OrchestratorConfig) *Orchestrator {
	cfg = applyOrchestratorDefaults(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:    cfg,
		backend:   backend,
		sandboxes: sandboxes,
		store:     store,
		limiter:   newTenantLimiter(cfg.Rate),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(map[string]*Operation),
		sessions:  make(map[string]string),
		queues:    make(map[string]chan string),
	}
}

// Submit validates and enqueues an operation, returning its id immediately.
//
// # Description
//
// Invariant violations are rejected synchronously and never enter the
// queue: ErrSessionBusy when the session already has a non-terminal
// operation, ErrRateLimited when the tenant's per-minute budget is spent,
// ErrValidation for malformed requests. The session busy check and the
// reservation of the session slot happen under one lock, so two
// near-simultaneous submissions for the same session cannot both be
// admitted.
func (o *Orchestrator) Submit(ctx context.Context, tenantID, sessionID string, kind Kind, payload Payload) (string, error) {
	if tenantID == "" || sessionID == "" {
		return "", fmt.Errorf("%w: tenant and session ids are required", ErrValidation)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", ErrValidation, kind)
	}
	if payload.Prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	op := &Operation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		SessionID:   sessionID,
		Kind:        kind,
		Payload:     payload,
		State:       OpQueued,
		SubmittedAt: time.Now(),
	}
	sessionKey := tenantID + "/" + sessionID

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, busy := o.sessions[sessionKey]; busy {
		o.mu.Unlock()
		return "", ErrSessionBusy
	}
	if !o.limiter.Allow(tenantID, kind) {
		o.mu.Unlock()
		slog.Warn("Operation rejected by rate limiter",
			"tenant_id", tenantID, "kind", kind)
		return "", ErrRateLimited
	}
	o.sessions[sessionKey] = op.ID
	o.ops[op.ID] = op
	queue := o.tenantQueue(tenantID)
	o.mu.Unlock()

	if err := o.store.Save(ctx, op); err != nil {
		o.mu.Lock()
		delete(o.sessions, sessionKey)
		delete(o.ops, op.ID)
		o.mu.Unlock()
		return "", fmt.Errorf("failed to persist operation: %w", err)
	}

	select {
	case queue <- op.ID:
	default:
		// The tenant's queue is saturated; treat as over budget.
		o.mu.Lock()
		delete(o.sessions, sessionKey)
		delete(o.ops, op.ID)
		o.mu.Unlock()
		return "", ErrRateLimited
	}

	o.config.Observer.OperationSubmitted(kind)
	slog.Info("Operation submitted",
		"operation_id", op.ID,
		"tenant_id", tenantID,
		"session_id", sessionID,
		"kind", kind)

	return op.ID, nil
}

// Status returns the current operation record.
//
// Falls back to the durable store for operations submitted before the last
// process restart.
func (o *Orchestrator) Status(ctx context.Context, operationID string) (*Operation, error) {
	o.mu.Lock()
	op, ok := o.ops[operationID]
	if ok {
		cp := op.Clone()
		o.mu.Unlock()
		return cp, nil
	}
	o.mu.Unlock()
	return o.store.Get(ctx, operationID)
}

// Cancel requests best-effort cancellation.
//
// # Description
//
// A queued operation resolves to cancelled immediately and never runs. A
// running operation moves to cancelling; any dispatched sandbox execution
// is allowed to finish but its result is discarded and the operation
// resolves to cancelled. Calling Cancel again (or on a terminal operation)
// has no further effect.
func (o *Orchestrator) Cancel(ctx context.Context, operationID string) error {
	o.mu.Lock()
	op, ok := o.ops[operationID]
	if !ok {
		o.mu.Unlock()
		// It may predate a restart; anything we only know from the store is
		// already terminal or unowned, so just report existence.
		if _, err := o.store.Get(ctx, operationID); err != nil {
			return err
		}
		return nil
	}
	if op.State.Terminal() || op.State == OpCancelling {
		o.mu.Unlock()
		return nil
	}
	if op.State == OpQueued {
		o.applyTransitionLocked(op, OpCancelled, ReasonCancelled)
		cp := op.Clone()
		o.mu.Unlock()
		o.persist(ctx, cp)
		o.config.Observer.OperationFinished(cp.Kind, OpCancelled, cp.RetryCount, time.Since(cp.SubmittedAt))
		slog.Info("Operation cancelled before start", "operation_id", operationID)
		return nil
	}
	o.applyTransitionLocked(op, OpCancelling, "")
	cp := op.Clone()
	o.mu.Unlock()
	o.persist(ctx, cp)
	slog.Info("Operation cancelling", "operation_id", operationID)
	return nil
}

// Shutdown stops accepting work, cancels dispatch, and waits for in-flight
// workers up to the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// =============================================================================
// Dispatch
// =============================================================================

// tenantQueue returns the tenant's FIFO queue, starting its dispatcher on
// first use. Caller must hold o.mu.
func (o *Orchestrator) tenantQueue(tenantID string) chan string {
	queue, ok := o.queues[tenantID]
	if !ok {
		queue = make(chan string, o.config.QueueDepth)
		o.queues[tenantID] = queue
		o.wg.Add(1)
		go o.dispatchLoop(tenantID, queue)
	}
	return queue
}

// dispatchLoop pops the tenant's queue in FIFO order and hands each
// operation to a worker once a global slot is free. Handing off (rather
// than processing inline) keeps dispatch order per tenant while letting
// different sessions of one tenant run concurrently.
func (o *Orchestrator) dispatchLoop(tenantID string, queue chan string) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case opID := <-queue:
			if err := o.sem.Acquire(o.ctx, 1); err != nil {
				return
			}
			o.wg.Add(1)
			go func(id string) {
				defer o.wg.Done()
				defer o.sem.Release(1)
				o.process(id)
			}(opID)
		}
	}
}

// =============================================================================
// State Transitions
// =============================================================================

// applyTransitionLocked records a state change. Caller must hold o.mu.
func (o *Orchestrator) applyTransitionLocked(op *Operation, to OpState, reason string) {
	now := time.Now()
	op.Transitions = append(op.Transitions, Transition{
		From:   op.State,
		To:     to,
		At:     now,
		Reason: reason,
	})
	op.State = to
	switch to {
	case OpRunning:
		if op.StartedAt == nil {
			op.StartedAt = &now
		}
	case OpSucceeded, OpFailed, OpCancelled:
		op.CompletedAt = &now
		op.FailureReason = reason
		delete(o.sessions, op.TenantID+"/"+op.SessionID)
	}
}

// finish drives the operation to a terminal state and persists it.
func (o *Orchestrator) finish(opID string, to OpState, reason string, result *Result) {
	o.mu.Lock()
	op, ok := o.ops[opID]
	if !ok || op.State.Terminal() {
		o.mu.Unlock()
		return
	}
	if result != nil {
		op.Result = result
	}
	o.applyTransitionLocked(op, to, reason)
	cp := op.Clone()
	o.mu.Unlock()

	o.persist(context.Background(), cp)
	o.config.Observer.OperationFinished(cp.Kind, to, cp.RetryCount, time.Since(cp.SubmittedAt))
	slog.Info("Operation finished",
		"operation_id", opID,
		"state", to,
		"reason", reason,
		"retries", cp.RetryCount)
}

// persist writes a snapshot, logging rather than failing on store errors:
// the in-memory record stays authoritative for this process lifetime.
func (o *Orchestrator) persist(ctx context.Context, op *Operation) {
	if err := o.store.Save(ctx, op); err != nil {
		slog.Warn("Failed to persist operation snapshot",
			"operation_id", op.ID, "error", err)
	}
}

// stateOf returns the current state under lock.
func (o *Orchestrator) stateOf(opID string) (OpState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[opID]
	if !ok {
		return "", false
	}
	return op.State, true
}
