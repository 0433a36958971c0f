// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Background Reaper
// =============================================================================

// ReaperConfig holds configuration for the background reap loop.
//
// # Fields
//
//   - Interval: How often to sweep for expired/idle sandboxes. Default: 60s.
//   - OnSweep: Optional callback invoked with every sweep's result,
//     typically to feed metrics. Must be safe for concurrent use.
type ReaperConfig struct {
	Interval time.Duration
	OnSweep  func(ReapResult)
}

// DefaultReaperConfig returns production defaults for the reaper.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{Interval: 60 * time.Second}
}

// Reaper periodically sweeps the pool for expired and idle sandboxes.
//
// # Description
//
// Uses the ticker + done channel pattern for graceful shutdown. Only one
// reaper should run per pool. Sweep errors never crash the loop; teardown
// failures are retried implicitly because the provider resource remains
// and the sweep repeats.
//
// # Thread Safety
//
// Start/Stop are safe for concurrent use; a mutex protects the running flag.
type Reaper struct {
	pool   *Pool
	config ReaperConfig

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewReaper creates a reaper for the pool. Call Start to begin sweeping.
func NewReaper(pool *Pool, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReaperConfig().Interval
	}
	return &Reaper{
		pool:   pool,
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Outputs
//
//   - error: Non-nil if the reaper is already running.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reaper is already running")
	}
	r.running = true
	r.done = make(chan struct{}) // Reset for potential restart
	r.mu.Unlock()

	slog.Info("Sandbox reaper starting", "interval", r.config.Interval.String())

	go r.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	slog.Info("Sandbox reaper stopping")
	close(r.done)
	r.running = false
}

// RunNow performs an immediate sweep without waiting for the next tick.
func (r *Reaper) RunNow(ctx context.Context) ReapResult {
	result := r.pool.ReapExpired(ctx)
	if r.config.OnSweep != nil {
		r.config.OnSweep(result)
	}
	return result
}

func (r *Reaper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sandbox reaper stopped (context cancelled)")
			return
		case <-r.done:
			slog.Info("Sandbox reaper stopped (stop requested)")
			return
		case <-ticker.C:
			result := r.pool.ReapExpired(ctx)
			if r.config.OnSweep != nil {
				r.config.OnSweep(result)
			}
			if result.Expired > 0 || result.Idle > 0 || result.Failures > 0 {
				slog.Info("Sandbox reap sweep completed",
					"scanned", result.Scanned,
					"expired", result.Expired,
					"idle", result.Idle,
					"teardown_failures", result.Failures,
				)
			} else {
				slog.Debug("Sandbox reap sweep completed (nothing to reclaim)")
			}
		}
	}
}
