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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// =============================================================================
// Command Execution
// =============================================================================

// CommandContext carries the execution environment for one stage command.
type CommandContext struct {
	WorkDir     string
	AppID       string
	Environment Environment
	ArtifactRef string
}

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	Log      []string
	ExitCode int
}

// CommandRunner executes one opaque shell command. The pipeline reads
// nothing from the command beyond its exit code and captured output.
type CommandRunner interface {
	Run(ctx context.Context, cc CommandContext, command string) (CommandResult, error)
}

// ShellRunner runs commands through `sh -c` with the pipeline context
// exposed as environment variables (APP_ID, ENVIRONMENT, ARTIFACT_REF).
type ShellRunner struct{}

var _ CommandRunner = (*ShellRunner)(nil)

// Run executes the command, streaming combined output into the captured
// log. A non-zero exit is reported through ExitCode, not through err; err
// is reserved for failures to run the command at all.
func (ShellRunner) Run(ctx context.Context, cc CommandContext, command string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cc.WorkDir
	cmd.Env = append(os.Environ(),
		"APP_ID="+cc.AppID,
		"ENVIRONMENT="+string(cc.Environment),
		"ARTIFACT_REF="+cc.ArtifactRef,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("failed to attach stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("failed to start command: %w", err)
	}

	var logLines []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logLines = append(logLines, scanner.Text())
	}

	err = cmd.Wait()
	result := CommandResult{Log: logLines, ExitCode: 0}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("command did not complete: %w", err)
	}
	return result, nil
}

// =============================================================================
// Stage Plans
// =============================================================================

// StagePlan maps each stage to its shell command list. An empty list means
// the stage has nothing to execute and succeeds trivially; a nil test list
// marks the test stage skipped.
type StagePlan map[StageName][]string

// DefaultStagePlan returns the standard npm application flow.
func DefaultStagePlan() StagePlan {
	return StagePlan{
		StageCheckout: {`git clone --depth 1 "$ARTIFACT_REF" .`},
		StageInstall:  {"npm install --legacy-peer-deps"},
		StageTest:     {"npm test"},
		StageBuild:    {"npm run build"},
		StageDeploy:   {},
	}
}

// buildStages materializes the fixed stage sequence from a plan.
func buildStages(plan StagePlan, skipTests bool) []Stage {
	stages := make([]Stage, len(stageOrder))
	for i, name := range stageOrder {
		st := Stage{
			Name:     name,
			Position: i,
			Status:   StagePending,
			Commands: append([]string(nil), plan[name]...),
		}
		if name == StageTest && (skipTests || len(plan[name]) == 0) {
			st.Status = StageSkipped
			st.Commands = nil
		}
		stages[i] = st
	}
	return stages
}

// defaultStageTimeout is the per-stage command deadline applied by the
// manager when ManagerConfig leaves StageTimeout unset.
const defaultStageTimeout = 15 * time.Minute
