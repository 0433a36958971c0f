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

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// Canary Gate
// =============================================================================

// CanaryConfig holds the production rollout gate parameters.
//
// # Fields
//
//   - TrafficPercent: Traffic fraction routed to the candidate. Default: 5.
//   - Window: Total observation period. Default: 5 minutes.
//   - SampleInterval: Time between error-rate samples. Default: 30s.
//   - ErrorThreshold: Error-rate ceiling (0.0–1.0). Default: 0.01.
type CanaryConfig struct {
	TrafficPercent int
	Window         time.Duration
	SampleInterval time.Duration
	ErrorThreshold float64
}

// DefaultCanaryConfig returns production defaults: 5% traffic observed for
// 5 minutes, sampled every 30 seconds against a 1% error ceiling.
func DefaultCanaryConfig() CanaryConfig {
	return CanaryConfig{
		TrafficPercent: 5,
		Window:         5 * time.Minute,
		SampleInterval: 30 * time.Second,
		ErrorThreshold: 0.01,
	}
}

func applyCanaryDefaults(cfg CanaryConfig) CanaryConfig {
	def := DefaultCanaryConfig()
	if cfg.TrafficPercent <= 0 || cfg.TrafficPercent > 100 {
		cfg.TrafficPercent = def.TrafficPercent
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	return cfg
}

// canaryGate drives one candidate artifact through the observation window.
//
// # Description
//
// The gate is a small state machine: shift the canary traffic fraction,
// then take one error-rate sample per tick and make exactly one decision
// per tick. Any sample above the threshold rolls the canary back
// immediately; surviving the whole window promotes to full traffic. There
// is no partially promoted end state: the candidate ends at 100% or the
// previous deployment ends at 100%.
type canaryGate struct {
	config  CanaryConfig
	traffic TrafficController
	errors  ErrorRateSource
}

// run observes the candidate and returns the decision. The observe callback
// receives each sample for the run's audit record. On rollback the returned
// error is ErrCanaryThresholdExceeded; any other error means a traffic
// shift itself failed and the caller must treat the deploy as failed.
func (g *canaryGate) run(ctx context.Context, appID string, env Environment, candidate, previous string, observe func(CanarySample)) (CanaryDecision, error) {
	if err := g.traffic.SetCanaryWeight(ctx, appID, env, candidate, g.config.TrafficPercent); err != nil {
		return "", fmt.Errorf("failed to shift canary traffic: %w", err)
	}
	slog.Info("Canary observation started",
		"app_id", appID,
		"artifact_ref", candidate,
		"traffic_percent", g.config.TrafficPercent,
		"window", g.config.Window)

	window := time.NewTimer(g.config.Window)
	defer window.Stop()
	ticker := time.NewTicker(g.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := g.revert(appID, env, previous); err != nil {
				slog.Error("Failed to revert canary on shutdown",
					"app_id", appID, "error", err)
			}
			return CanaryRolledBack, ctx.Err()

		case <-window.C:
			if err := g.traffic.Promote(ctx, appID, env, candidate); err != nil {
				return "", fmt.Errorf("failed to promote canary: %w", err)
			}
			slog.Info("Canary promoted", "app_id", appID, "artifact_ref", candidate)
			return CanaryPromoted, nil

		case now := <-ticker.C:
			rate, err := g.errors.Sample(ctx, appID, env, candidate)
			if err != nil {
				// A missed sample is not a failure signal; the window is
				// judged only on observed data.
				slog.Warn("Canary error-rate sample failed",
					"app_id", appID, "error", err)
				continue
			}
			observe(CanarySample{At: now, ErrorRate: rate})
			if rate > g.config.ErrorThreshold {
				slog.Warn("Canary error rate over threshold, rolling back",
					"app_id", appID,
					"artifact_ref", candidate,
					"error_rate", rate,
					"threshold", g.config.ErrorThreshold)
				if err := g.revert(appID, env, previous); err != nil {
					return CanaryRolledBack, fmt.Errorf("failed to revert canary: %w", err)
				}
				return CanaryRolledBack, ErrCanaryThresholdExceeded
			}
		}
	}
}

// revert re-points full traffic at the previous deployment. Uses a fresh
// context so rollback still happens when the run's context is gone.
func (g *canaryGate) revert(appID string, env Environment, previous string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return g.traffic.PointTo(ctx, appID, env, previous)
}
