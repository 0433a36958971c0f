// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy runs the staged build/deploy sequence for an application
// and gates production rollouts behind a canary observation window.
//
// A pipeline run walks the fixed stage order checkout → install → test →
// build → deploy. Stages execute strictly sequentially; a failed stage
// halts everything downstream. For production targets the deploy stage is
// preceded by a canary gate that routes a small traffic fraction to the
// candidate and samples its live error rate before promoting.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Configuration
// =============================================================================

// ManagerConfig holds pipeline execution parameters.
//
// # Fields
//
//   - Plan: Stage command lists. Nil uses DefaultStagePlan.
//   - StageTimeout: Deadline for each stage command. Default: 15 minutes.
//   - Canary: Production rollout gate parameters.
//   - WorkRoot: Parent directory for per-run workspaces. Default: os temp.
type ManagerConfig struct {
	Plan         StagePlan
	StageTimeout time.Duration
	Canary       CanaryConfig
	WorkRoot     string

	// Observer receives run lifecycle notifications. Nil means none.
	Observer Observer
}

// Observer receives pipeline lifecycle notifications, typically to feed
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	RunStarted(env Environment)
	RunFinished(env Environment, state RunState, reason string)
	CanaryDecided(decision CanaryDecision)
}

type nopObserver struct{}

func (nopObserver) RunStarted(Environment) {}

func (nopObserver) RunFinished(Environment, RunState, string) {}

func (nopObserver) CanaryDecided(CanaryDecision) {}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Plan:         DefaultStagePlan(),
		StageTimeout: defaultStageTimeout,
		Canary:       DefaultCanaryConfig(),
	}
}

func applyManagerDefaults(cfg ManagerConfig) ManagerConfig {
	if cfg.Plan == nil {
		cfg.Plan = DefaultStagePlan()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	cfg.Canary = applyCanaryDefaults(cfg.Canary)
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return cfg
}

// StartRequest describes one pipeline run to create.
type StartRequest struct {
	AppID       string
	Environment Environment
	ArtifactRef string

	// SkipTests marks the test stage skipped instead of running it.
	SkipTests bool
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns pipeline runs for their full duration. Terminal runs are
// retained as immutable audit records for status queries.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Manager struct {
	config  ManagerConfig
	runner  CommandRunner
	traffic TrafficController
	errors  ErrorRateSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runs    map[string]*PipelineRun
	active  map[string]string   // app/env → active run id
	history map[string][]string // app/env → successful artifact refs, in order
	closed  bool
}

// NewManager wires a pipeline manager.
//
// # Inputs
//
//   - runner: Stage command executor. Required.
//   - traffic: Traffic controller for canary/promote/rollback. Required.
//   - errors: Error-rate source for the canary gate. Required for
//     production targets; may be nil when only preview is used.
//   - cfg: Execution parameters. Zero values use defaults.
func NewManager(runner CommandRunner, traffic TrafficController, errors ErrorRateSource, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  applyManagerDefaults(cfg),
		runner:  runner,
		traffic: traffic,
		errors:  errors,
		ctx:     ctx,
		cancel:  cancel,
		runs:    make(map[string]*PipelineRun),
		active:  make(map[string]string),
		history: make(map[string][]string),
	}
}

// Start creates a pipeline run and begins executing it asynchronously.
//
// Fails with ErrPipelineAlreadyRunning when an active run exists for the
// same application+environment pair; the check and the reservation of the
// target slot are a single transition under the manager lock.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.AppID == "" || req.ArtifactRef == "" {
		return "", fmt.Errorf("%w: app id and artifact ref are required", ErrValidation)
	}
	if !req.Environment.Valid() {
		return "", fmt.Errorf("%w: unknown environment %q", ErrValidation, req.Environment)
	}

	run := &PipelineRun{
		ID:          uuid.NewString(),
		AppID:       req.AppID,
		Environment: req.Environment,
		ArtifactRef: req.ArtifactRef,
		State:       RunRunning,
		Stages:      buildStages(m.config.Plan, req.SkipTests),
		StartedAt:   time.Now(),
	}
	target := targetKey(req.AppID, req.Environment)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if activeID, busy := m.active[target]; busy {
		m.mu.Unlock()
		slog.Warn("Pipeline start rejected, target busy",
			"app_id", req.AppID, "environment", req.Environment, "active_run", activeID)
		return "", ErrPipelineAlreadyRunning
	}
	m.active[target] = run.ID
	m.runs[run.ID] = run
	m.wg.Add(1)
	m.mu.Unlock()

	m.config.Observer.RunStarted(req.Environment)
	slog.Info("Pipeline started",
		"run_id", run.ID,
		"app_id", req.AppID,
		"environment", req.Environment,
		"artifact_ref", req.ArtifactRef)

	go func() {
		defer m.wg.Done()
		m.execute(run.ID)
	}()
	return run.ID, nil
}

// Status returns the current run record.
func (m *Manager) Status(_ context.Context, runID string) (*PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return run.Clone(), nil
}

// Rollback re-points traffic at the deployment that preceded this run.
//
// Only available on a run whose deploy stage completed (state succeeded),
// and only while a preceding successful deployment exists for the target.
func (m *Manager) Rollback(ctx context.Context, runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return ErrPipelineNotFound
	}
	if run.State != RunSucceeded {
		m.mu.Unlock()
		return fmt.Errorf("%w: run state is %s", ErrRollbackUnavailable, run.State)
	}
	target := targetKey(run.AppID, run.Environment)
	refs := m.history[target]
	// The run's own artifact must be the current deployment and something
	// older must exist to fall back to.
	if len(refs) < 2 || refs[len(refs)-1] != run.ArtifactRef {
		m.mu.Unlock()
		return fmt.Errorf("%w: no preceding deployment", ErrRollbackUnavailable)
	}
	previous := refs[len(refs)-2]
	run.State = RunRollingBack
	m.mu.Unlock()

	if err := m.traffic.PointTo(ctx, run.AppID, run.Environment, previous); err != nil {
		m.mu.Lock()
		run.State = RunSucceeded // traffic untouched; run remains the live deployment
		m.mu.Unlock()
		return fmt.Errorf("failed to re-point traffic: %w", err)
	}

	m.mu.Lock()
	run.State = RunRolledBack
	now := time.Now()
	run.CompletedAt = &now
	m.history[target] = refs[:len(refs)-1]
	m.mu.Unlock()

	m.config.Observer.RunFinished(run.Environment, RunRolledBack, "")
	slog.Info("Pipeline rolled back",
		"run_id", runID,
		"app_id", run.AppID,
		"restored_artifact", previous)
	return nil
}

// LastGood returns the artifact currently considered live for the target.
func (m *Manager) LastGood(appID string, env Environment) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := m.history[targetKey(appID, env)]
	if len(refs) == 0 {
		return "", false
	}
	return refs[len(refs)-1], true
}

// Shutdown stops accepting runs and waits for in-flight runs up to the
// context deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

func targetKey(appID string, env Environment) string {
	return appID + "/" + string(env)
}

// =============================================================================
// Run Execution
// =============================================================================

// execute walks the run's stages in order, gating the production deploy
// stage behind the canary. Always clears the target's active slot.
func (m *Manager) execute(runID string) {
	m.mu.Lock()
	run := m.runs[runID]
	target := targetKey(run.AppID, run.Environment)
	env := run.Environment
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, target)
		m.mu.Unlock()
	}()

	workDir, err := os.MkdirTemp(m.config.WorkRoot, "pipeline-")
	if err != nil {
		m.finishRun(runID, RunFailed, ReasonStageFailed)
		slog.Error("Failed to create pipeline workspace", "run_id", runID, "error", err)
		return
	}
	defer os.RemoveAll(workDir)

	promoted := false
	var previous string
	for i := range stageOrder {
		if m.ctx.Err() != nil {
			m.finishRun(runID, RunFailed, ReasonStageFailed)
			return
		}

		name, skipped := m.stageMeta(runID, i)
		if skipped {
			slog.Info("Stage skipped", "run_id", runID, "stage", name)
			continue
		}

		if name == StageDeploy && env == EnvProduction {
			var ok bool
			ok, promoted, previous = m.runCanary(runID)
			if !ok {
				return
			}
		}

		if !m.runStage(runID, i, workDir) {
			if promoted {
				m.restoreTraffic(runID, run.AppID, env, previous)
			}
			m.finishRun(runID, RunFailed, ReasonStageFailed)
			return
		}
	}

	// The canary gate promotes traffic itself; every other successful run
	// points traffic at its artifact here.
	if !promoted {
		if err := m.traffic.PointTo(m.ctx, run.AppID, env, run.ArtifactRef); err != nil {
			slog.Error("Failed to point traffic at deployed artifact",
				"run_id", runID, "error", err)
			m.finishRun(runID, RunFailed, ReasonTrafficShift)
			return
		}
	}

	m.mu.Lock()
	m.history[target] = append(m.history[target], run.ArtifactRef)
	m.mu.Unlock()
	m.finishRun(runID, RunSucceeded, "")
}

// stageMeta returns the stage name and whether it is pre-marked skipped.
func (m *Manager) stageMeta(runID string, idx int) (StageName, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &m.runs[runID].Stages[idx]
	return st.Name, st.Status == StageSkipped
}

// runStage executes one stage's command list sequentially, recording
// captured output. Returns false when a command exits non-zero or cannot
// run, with the stage marked failed.
func (m *Manager) runStage(runID string, idx int, workDir string) bool {
	m.mu.Lock()
	run := m.runs[runID]
	st := &run.Stages[idx]
	now := time.Now()
	st.Status = StageRunning
	st.StartedAt = &now
	cc := CommandContext{
		WorkDir:     workDir,
		AppID:       run.AppID,
		Environment: run.Environment,
		ArtifactRef: run.ArtifactRef,
	}
	commands := append([]string(nil), st.Commands...)
	name := st.Name
	m.mu.Unlock()

	slog.Info("Stage started", "run_id", runID, "stage", name)

	for _, command := range commands {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.StageTimeout)
		result, err := m.runner.Run(ctx, cc, command)
		cancel()

		m.mu.Lock()
		st.Log = append(st.Log, result.Log...)
		st.ExitCode = result.ExitCode
		m.mu.Unlock()

		if err != nil || result.ExitCode != 0 {
			m.mu.Lock()
			end := time.Now()
			st.Status = StageFailed
			st.CompletedAt = &end
			m.mu.Unlock()
			slog.Error("Stage failed",
				"run_id", runID,
				"stage", name,
				"exit_code", result.ExitCode,
				"error", err)
			return false
		}
	}

	m.mu.Lock()
	end := time.Now()
	st.Status = StageSucceeded
	st.CompletedAt = &end
	m.mu.Unlock()
	slog.Info("Stage succeeded", "run_id", runID, "stage", name)
	return true
}

// runCanary gates the production deploy stage. ok reports whether the
// deploy stage may run; viaCanary reports whether the gate already
// promoted traffic to the candidate, in which case previous names the
// artifact that was serving before promotion. When ok is false the run is
// resolved (rolled back or traffic shift failed) and the deploy stage
// stays pending as part of the audit record.
func (m *Manager) runCanary(runID string) (ok, viaCanary bool, previous string) {
	m.mu.Lock()
	run := m.runs[runID]
	run.State = RunCanarying
	run.Canary = &CanarySnapshot{TrafficPercent: m.config.Canary.TrafficPercent}
	appID, env, candidate := run.AppID, run.Environment, run.ArtifactRef
	refs := m.history[targetKey(appID, env)]
	m.mu.Unlock()

	// First deployment for the target has no baseline to compare against
	// or fall back to; it rolls out directly.
	if len(refs) == 0 {
		slog.Info("No prior deployment, skipping canary",
			"run_id", runID, "app_id", appID)
		m.mu.Lock()
		run.State = RunRunning
		m.mu.Unlock()
		return true, false, ""
	}
	previous = refs[len(refs)-1]

	gate := &canaryGate{config: m.config.Canary, traffic: m.traffic, errors: m.errors}
	decision, err := gate.run(m.ctx, appID, env, candidate, previous, func(s CanarySample) {
		m.mu.Lock()
		run.Canary.Samples = append(run.Canary.Samples, s)
		m.mu.Unlock()
	})

	m.mu.Lock()
	run.Canary.Decision = decision
	m.mu.Unlock()
	if decision != "" {
		m.config.Observer.CanaryDecided(decision)
	}

	switch {
	case err == nil:
		m.mu.Lock()
		run.State = RunRunning
		m.mu.Unlock()
		return true, true, previous
	case decision == CanaryRolledBack:
		m.finishRun(runID, RunFailed, ReasonCanaryThreshold)
		return false, false, ""
	default:
		m.finishRun(runID, RunFailed, ReasonTrafficShift)
		return false, false, ""
	}
}

// restoreTraffic points traffic back at the artifact that was serving
// before the canary promoted, after a later stage failed. Live traffic
// must match the run's failed audit record. Uses a fresh context so the
// restore survives manager shutdown.
func (m *Manager) restoreTraffic(runID, appID string, env Environment, previous string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.traffic.PointTo(ctx, appID, env, previous); err != nil {
		slog.Error("Failed to restore previous artifact after stage failure",
			"run_id", runID,
			"app_id", appID,
			"previous", previous,
			"error", err)
		return
	}
	slog.Info("Traffic restored to previous artifact",
		"run_id", runID, "app_id", appID, "previous", previous)
}

// finishRun records the run's terminal state.
func (m *Manager) finishRun(runID string, state RunState, reason string) {
	m.mu.Lock()
	run := m.runs[runID]
	run.State = state
	run.FailureReason = reason
	now := time.Now()
	run.CompletedAt = &now
	env := run.Environment
	m.mu.Unlock()

	m.config.Observer.RunFinished(env, state, reason)
	slog.Info("Pipeline finished",
		"run_id", runID,
		"state", state,
		"reason", reason)
}
