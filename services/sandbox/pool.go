// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox owns the set of live code-execution sandboxes.
//
// The Pool provisions sandboxes through an external Provider, executes code
// in them, and reclaims them on release, expiry, or idleness. It is the only
// component allowed to mutate sandbox records; callers hold opaque Handles.
//
// # Tenant Isolation
//
// Every sandbox belongs to exactly one tenant. The pool enforces a fixed
// per-tenant ceiling on concurrently live sandboxes and never hands a handle
// for one tenant's sandbox to another tenant's caller.
//
// # Reclamation
//
// The Reaper (see reaper.go) periodically calls ReapExpired, which is the
// backstop against resource leaks when a client crashes without calling
// Release.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Pool Configuration
// =============================================================================

// PoolConfig holds tunable limits for the sandbox pool.
//
// # Fields
//
//   - TenantCeiling: Maximum concurrently live sandboxes per tenant. Default: 5.
//   - DefaultTimeout: Wall-clock ceiling applied when Config.Timeout is zero.
//     Default: 20 minutes.
//   - IdleTimeout: A ready sandbox with no Execute calls for this long is
//     reclaimed by the reaper. Default: 5 minutes.
//   - TeardownTimeout: Deadline for best-effort provider teardown calls.
//     Default: 30 seconds.
type PoolConfig struct {
	TenantCeiling   int
	DefaultTimeout  time.Duration
	IdleTimeout     time.Duration
	TeardownTimeout time.Duration
}

// DefaultPoolConfig returns production defaults for the pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		TenantCeiling:   5,
		DefaultTimeout:  20 * time.Minute,
		IdleTimeout:     5 * time.Minute,
		TeardownTimeout: 30 * time.Second,
	}
}

func applyPoolDefaults(cfg PoolConfig) PoolConfig {
	def := DefaultPoolConfig()
	if cfg.TenantCeiling <= 0 {
		cfg.TenantCeiling = def.TenantCeiling
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = def.TeardownTimeout
	}
	return cfg
}

// =============================================================================
// Clock
// =============================================================================

// Clock abstracts time.Now so expiry logic is testable without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// =============================================================================
// Per-Tenant Capacity Accounting
// =============================================================================

// tenantCounters tracks live sandbox counts per tenant.
//
// The map mutex only guards map access; each tenant has its own lock so the
// check-and-increment on Create is a single atomic transition per tenant and
// tenants never contend with each other.
type tenantCounters struct {
	mu     sync.Mutex
	counts map[string]*tenantCount
}

type tenantCount struct {
	mu   sync.Mutex
	live int
}

func newTenantCounters() *tenantCounters {
	return &tenantCounters{counts: make(map[string]*tenantCount)}
}

func (t *tenantCounters) get(tenantID string) *tenantCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counts[tenantID]
	if !ok {
		c = &tenantCount{}
		t.counts[tenantID] = c
	}
	return c
}

// acquire reserves one sandbox slot, failing if the tenant is at ceiling.
func (t *tenantCounters) acquire(tenantID string, ceiling int) error {
	c := t.get(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live >= ceiling {
		return ErrResourceLimitExceeded
	}
	c.live++
	return nil
}

func (t *tenantCounters) release(tenantID string) {
	c := t.get(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live > 0 {
		c.live--
	}
}

func (t *tenantCounters) liveCount(tenantID string) int {
	c := t.get(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// =============================================================================
// Pool Implementation
// =============================================================================

// record is the pool-internal state of one sandbox.
type record struct {
	info        Info
	providerRef string
}

// Pool manages the lifecycle of all sandboxes in the process.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Provider calls run outside the
// pool lock, so one caller's provisioning or execution never blocks another
// caller's sandbox.
type Pool struct {
	provider Provider
	config   PoolConfig
	clock    Clock

	mu        sync.Mutex
	sandboxes map[string]*record
	tenants   *tenantCounters
}

// NewPool creates a sandbox pool backed by the given provider.
func NewPool(provider Provider, cfg PoolConfig) *Pool {
	return &Pool{
		provider:  provider,
		config:    applyPoolDefaults(cfg),
		clock:     systemClock{},
		sandboxes: make(map[string]*record),
		tenants:   newTenantCounters(),
	}
}

// Create provisions a new sandbox for the tenant.
//
// # Description
//
// Reserves a capacity slot for the tenant (failing fast with
// ErrResourceLimitExceeded at the ceiling), provisions a sandbox through the
// external provider, and registers it with a deadline of Config.Timeout
// (pool default when zero). The slot is reserved before the provider call so
// two concurrent Create calls cannot both slip under the ceiling.
//
// # Inputs
//
//   - ctx: Deadline/cancellation for the provider call.
//   - tenantID: Owning tenant. Must be non-empty.
//   - cfg: Template, resources, wall-clock timeout, labels.
//
// # Outputs
//
//   - Handle: Opaque reference used for Execute/Release/PreviewLink.
//   - error: ErrResourceLimitExceeded at quota; provider errors wrapped
//     with ErrProvider.
func (p *Pool) Create(ctx context.Context, tenantID string, cfg Config) (Handle, error) {
	if tenantID == "" {
		return Handle{}, fmt.Errorf("tenant id is required")
	}

	if err := p.tenants.acquire(tenantID, p.config.TenantCeiling); err != nil {
		slog.Warn("Sandbox create rejected at tenant ceiling",
			"tenant_id", tenantID, "ceiling", p.config.TenantCeiling)
		return Handle{}, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = p.config.DefaultTimeout
	}
	resources := cfg.Resources
	if resources == (ResourceSpec{}) {
		resources = DefaultResources()
	}

	now := p.clock.Now()
	rec := &record{
		info: Info{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Template:  cfg.Template,
			Resources: resources,
			State:     StateCreating,
			CreatedAt: now,
			ExpiresAt: now.Add(timeout),
			LastUsed:  now,
			Labels:    cfg.Labels,
		},
	}

	p.mu.Lock()
	p.sandboxes[rec.info.ID] = rec
	p.mu.Unlock()

	providerRef, err := p.provider.Provision(ctx, ProvisionRequest{
		Template:  cfg.Template,
		Resources: resources,
		Labels:    cfg.Labels,
	})
	if err != nil {
		p.failSandbox(rec.info.ID)
		return Handle{}, fmt.Errorf("sandbox provisioning failed: %w", err)
	}

	p.mu.Lock()
	if rec.info.State.Terminal() {
		// The reaper reclaimed the slot while provisioning hung past the
		// wall clock; the tenant slot is already released.
		p.mu.Unlock()
		p.teardown(ctx, rec.info.ID, providerRef)
		return Handle{}, fmt.Errorf("sandbox %s reclaimed during provisioning: %w",
			rec.info.ID, ErrSandboxNotFound)
	}
	rec.providerRef = providerRef
	rec.info.State = StateReady
	p.mu.Unlock()

	slog.Info("Sandbox created",
		"sandbox_id", rec.info.ID,
		"tenant_id", tenantID,
		"template", cfg.Template,
		"expires_at", rec.info.ExpiresAt)

	return Handle{ID: rec.info.ID, TenantID: tenantID}, nil
}

// Execute runs code inside the sandbox and waits for the result.
//
// # Description
//
// Synchronous from the caller's point of view. The sandbox transitions
// ready → executing → ready; a second concurrent Execute on the same
// sandbox fails with ErrSandboxBusy rather than queueing. A deadline of
// timeout is applied to the provider call; on expiry the sandbox moves to
// the error state (terminal) and the call fails with ErrExecutionTimeout.
//
// # Outputs
//
//   - ExecutionResult: stdout/stderr/exit code and measured duration.
//   - error: ErrSandboxNotFound for destroyed/expired handles,
//     ErrExecutionTimeout on deadline, provider failures otherwise.
func (p *Pool) Execute(ctx context.Context, handle Handle, code string, timeout time.Duration) (ExecutionResult, error) {
	p.mu.Lock()
	rec, ok := p.sandboxes[handle.ID]
	if !ok || rec.info.TenantID != handle.TenantID || rec.info.State.Terminal() {
		p.mu.Unlock()
		return ExecutionResult{}, ErrSandboxNotFound
	}
	if rec.info.State != StateReady {
		p.mu.Unlock()
		return ExecutionResult{}, ErrSandboxBusy
	}
	rec.info.State = StateExecuting
	rec.info.LastUsed = p.clock.Now()
	providerRef := rec.providerRef
	p.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := p.clock.Now()
	out, err := p.provider.Run(runCtx, providerRef, code)
	elapsed := p.clock.Now().Sub(start)

	if err != nil {
		p.failSandbox(handle.ID)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("Sandbox execution timed out",
				"sandbox_id", handle.ID, "timeout", timeout)
			return ExecutionResult{}, ErrExecutionTimeout
		}
		return ExecutionResult{}, fmt.Errorf("sandbox execution failed: %w", err)
	}

	p.mu.Lock()
	// The reaper may have expired the sandbox mid-run; terminal states stick.
	if rec.info.State == StateExecuting {
		rec.info.State = StateReady
	}
	rec.info.LastUsed = p.clock.Now()
	p.mu.Unlock()

	return ExecutionResult{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: elapsed,
	}, nil
}

// PreviewLink exposes a sandbox port and returns the routable URL and token.
func (p *Pool) PreviewLink(ctx context.Context, handle Handle, port int) (PreviewLink, error) {
	p.mu.Lock()
	rec, ok := p.sandboxes[handle.ID]
	if !ok || rec.info.TenantID != handle.TenantID || rec.info.State.Terminal() {
		p.mu.Unlock()
		return PreviewLink{}, ErrSandboxNotFound
	}
	rec.info.LastUsed = p.clock.Now()
	providerRef := rec.providerRef
	p.mu.Unlock()

	link, err := p.provider.PreviewLink(ctx, providerRef, port)
	if err != nil {
		return PreviewLink{}, fmt.Errorf("failed to get preview link: %w", err)
	}
	return link, nil
}

// Release marks the sandbox for reclamation.
//
// # Description
//
// Idempotent. The tenant's live counter is decremented immediately; the
// provider teardown is best effort and its failure is only logged, because
// the reaper retries teardown for lingering provider resources on the next
// sweep.
func (p *Pool) Release(ctx context.Context, handle Handle) error {
	p.mu.Lock()
	rec, ok := p.sandboxes[handle.ID]
	if !ok || rec.info.TenantID != handle.TenantID || rec.info.State.Terminal() {
		p.mu.Unlock()
		return nil
	}
	rec.info.State = StateReleased
	providerRef := rec.providerRef
	tenantID := rec.info.TenantID
	p.mu.Unlock()

	p.tenants.release(tenantID)
	p.teardown(ctx, handle.ID, providerRef)

	slog.Info("Sandbox released", "sandbox_id", handle.ID, "tenant_id", tenantID)
	return nil
}

// Info returns a snapshot of the sandbox record.
func (p *Pool) Info(handle Handle) (Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.sandboxes[handle.ID]
	if !ok || rec.info.TenantID != handle.TenantID {
		return Info{}, ErrSandboxNotFound
	}
	return rec.info, nil
}

// TenantLiveCount reports the tenant's current live sandbox count.
func (p *Pool) TenantLiveCount(tenantID string) int {
	return p.tenants.liveCount(tenantID)
}

// =============================================================================
// Reclamation
// =============================================================================

// ReapResult summarizes one reap sweep.
type ReapResult struct {
	Scanned  int
	Expired  int
	Idle     int
	Failures int
}

// ReapExpired reclaims sandboxes past their deadline or idle too long.
//
// # Description
//
// This is the only mechanism preventing unbounded resource growth when a
// client crashes without calling Release. A sandbox is reclaimed when its
// wall-clock deadline has passed (even mid-execution) or when it has sat
// ready with no Execute calls beyond the idle timeout.
//
// # Outputs
//
//   - ReapResult: Counts of scanned/expired/idle-reclaimed sandboxes and
//     teardown failures. Teardown failures do not abort the sweep.
func (p *Pool) ReapExpired(ctx context.Context) ReapResult {
	now := p.clock.Now()

	type victim struct {
		id          string
		providerRef string
		tenantID    string
		idle        bool
	}
	var victims []victim

	p.mu.Lock()
	result := ReapResult{Scanned: len(p.sandboxes)}
	for id, rec := range p.sandboxes {
		if rec.info.State.Terminal() {
			continue
		}
		pastDeadline := now.After(rec.info.ExpiresAt)
		if rec.info.State == StateCreating {
			// A provision call hung past the wall clock forfeits its
			// slot. No provider resource exists yet; Create tears the
			// late one down when the provider finally returns.
			if !pastDeadline {
				continue
			}
			rec.info.State = StateExpired
			victims = append(victims, victim{id: id, tenantID: rec.info.TenantID})
			continue
		}
		idle := rec.info.State == StateReady && now.Sub(rec.info.LastUsed) > p.config.IdleTimeout
		if !pastDeadline && !idle {
			continue
		}
		rec.info.State = StateExpired
		victims = append(victims, victim{
			id:          id,
			providerRef: rec.providerRef,
			tenantID:    rec.info.TenantID,
			idle:        !pastDeadline,
		})
	}
	p.mu.Unlock()

	for _, v := range victims {
		p.tenants.release(v.tenantID)
		if v.idle {
			result.Idle++
			slog.Info("Reaping idle sandbox", "sandbox_id", v.id, "tenant_id", v.tenantID)
		} else {
			result.Expired++
			slog.Info("Reaping expired sandbox", "sandbox_id", v.id, "tenant_id", v.tenantID)
		}
		if !p.teardown(ctx, v.id, v.providerRef) {
			result.Failures++
		}
	}

	return result
}

// failSandbox moves a sandbox to the error state, frees its slot, and tears
// down any provider-side resource.
func (p *Pool) failSandbox(id string) {
	p.mu.Lock()
	rec, ok := p.sandboxes[id]
	if !ok || rec.info.State.Terminal() {
		p.mu.Unlock()
		return
	}
	rec.info.State = StateError
	tenantID := rec.info.TenantID
	providerRef := rec.providerRef
	p.mu.Unlock()

	p.tenants.release(tenantID)
	p.teardown(context.Background(), id, providerRef)
}

// teardown destroys the provider-side sandbox, logging failures.
func (p *Pool) teardown(ctx context.Context, id, providerRef string) bool {
	if providerRef == "" {
		return true
	}
	tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.TeardownTimeout)
	defer cancel()
	if err := p.provider.Teardown(tdCtx, providerRef); err != nil {
		slog.Warn("Sandbox teardown failed", "sandbox_id", id, "error", err)
		return false
	}
	return true
}
