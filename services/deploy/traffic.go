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
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// Traffic Control
// =============================================================================

// TrafficController re-points live traffic between deployed artifact
// versions at the hosting/CDN layer.
//
// # Description
//
// SetCanaryWeight routes the given percentage of traffic to the candidate
// artifact, leaving the remainder on the current deployment. Promote routes
// 100% of traffic to the candidate. PointTo routes 100% of traffic to an
// arbitrary previously deployed artifact (used for rollback). All three are
// expected to be idempotent at the provider.
type TrafficController interface {
	SetCanaryWeight(ctx context.Context, appID string, env Environment, artifactRef string, percent int) error
	Promote(ctx context.Context, appID string, env Environment, artifactRef string) error
	PointTo(ctx context.Context, appID string, env Environment, artifactRef string) error
}

// =============================================================================
// Command-Based Controller
// =============================================================================

// CommandTrafficController drives traffic shifts through operator-supplied
// shell commands, the same opaque-command contract the deploy stage uses.
// The target artifact and weight are exposed as TRAFFIC_ARTIFACT and
// TRAFFIC_PERCENT environment variables.
type CommandTrafficController struct {
	Runner CommandRunner

	// CanaryCommand, PromoteCommand, and PointCommand are sh command lines.
	// An empty command makes the corresponding shift a logged no-op, which
	// suits hosting providers that handle weighting out of band.
	CanaryCommand  string
	PromoteCommand string
	PointCommand   string
}

var _ TrafficController = (*CommandTrafficController)(nil)

func (c *CommandTrafficController) SetCanaryWeight(ctx context.Context, appID string, env Environment, artifactRef string, percent int) error {
	return c.shift(ctx, c.CanaryCommand, appID, env, artifactRef, percent)
}

func (c *CommandTrafficController) Promote(ctx context.Context, appID string, env Environment, artifactRef string) error {
	return c.shift(ctx, c.PromoteCommand, appID, env, artifactRef, 100)
}

func (c *CommandTrafficController) PointTo(ctx context.Context, appID string, env Environment, artifactRef string) error {
	return c.shift(ctx, c.PointCommand, appID, env, artifactRef, 100)
}

func (c *CommandTrafficController) shift(ctx context.Context, command, appID string, env Environment, artifactRef string, percent int) error {
	if command == "" {
		slog.Info("Traffic shift (no-op)",
			"app_id", appID, "environment", env,
			"artifact_ref", artifactRef, "percent", percent)
		return nil
	}
	cc := CommandContext{
		AppID:       appID,
		Environment: env,
		ArtifactRef: artifactRef,
	}
	full := "export TRAFFIC_ARTIFACT=" + shellQuote(artifactRef) +
		" TRAFFIC_PERCENT=" + strconv.Itoa(percent) + "; " + command
	result, err := c.Runner.Run(ctx, cc, full)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &trafficShiftError{appID: appID, env: env, exitCode: result.ExitCode}
	}
	return nil
}

type trafficShiftError struct {
	appID    string
	env      Environment
	exitCode int
}

func (e *trafficShiftError) Error() string {
	return fmt.Sprintf("traffic shift command failed for %s/%s with exit code %d",
		e.appID, e.env, e.exitCode)
}

// =============================================================================
// In-Memory Controller
// =============================================================================

// MemoryTrafficController tracks weights in memory. Used where no hosting
// integration is configured and by tests.
type MemoryTrafficController struct {
	mu      sync.Mutex
	serving map[string]string // app/env → artifact at 100%
	canary  map[string]string // app/env → artifact at canary weight
	percent map[string]int
}

var _ TrafficController = (*MemoryTrafficController)(nil)

func NewMemoryTrafficController() *MemoryTrafficController {
	return &MemoryTrafficController{
		serving: make(map[string]string),
		canary:  make(map[string]string),
		percent: make(map[string]int),
	}
}

func (m *MemoryTrafficController) SetCanaryWeight(_ context.Context, appID string, env Environment, artifactRef string, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appID + "/" + string(env)
	m.canary[key] = artifactRef
	m.percent[key] = percent
	return nil
}

func (m *MemoryTrafficController) Promote(ctx context.Context, appID string, env Environment, artifactRef string) error {
	return m.PointTo(ctx, appID, env, artifactRef)
}

func (m *MemoryTrafficController) PointTo(_ context.Context, appID string, env Environment, artifactRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appID + "/" + string(env)
	m.serving[key] = artifactRef
	delete(m.canary, key)
	delete(m.percent, key)
	return nil
}

// Serving returns the artifact currently receiving full traffic.
func (m *MemoryTrafficController) Serving(appID string, env Environment) (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appID + "/" + string(env)
	return m.serving[key], m.percent[key]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
