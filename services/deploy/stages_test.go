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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunnerCapturesOutput(t *testing.T) {
	cc := CommandContext{WorkDir: t.TempDir(), AppID: "app1", Environment: EnvPreview, ArtifactRef: "v1"}

	result, err := ShellRunner{}.Run(context.Background(), cc, "echo one; echo two >&2")
	require.NoError(t, err)
	assert.Zero(t, result.ExitCode)
	assert.ElementsMatch(t, []string{"one", "two"}, result.Log)
}

func TestShellRunnerReportsExitCode(t *testing.T) {
	cc := CommandContext{WorkDir: t.TempDir()}

	result, err := ShellRunner{}.Run(context.Background(), cc, "echo failing; exit 3")
	require.NoError(t, err) // non-zero exit is a result, not an error
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, []string{"failing"}, result.Log)
}

func TestShellRunnerExposesPipelineEnv(t *testing.T) {
	cc := CommandContext{WorkDir: t.TempDir(), AppID: "app1", Environment: EnvProduction, ArtifactRef: "ref-42"}

	result, err := ShellRunner{}.Run(context.Background(), cc, `echo "$APP_ID/$ENVIRONMENT/$ARTIFACT_REF"`)
	require.NoError(t, err)
	require.Len(t, result.Log, 1)
	assert.Equal(t, "app1/production/ref-42", result.Log[0])
}

func TestShellRunnerHonorsContext(t *testing.T) {
	cc := CommandContext{WorkDir: t.TempDir()}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, _ := ShellRunner{}.Run(ctx, cc, "sleep 5")
	assert.NotZero(t, result.ExitCode)
}

func TestBuildStagesMarksTestSkipped(t *testing.T) {
	stages := buildStages(testPlan(), true)
	require.Len(t, stages, 5)
	assert.Equal(t, StageSkipped, stages[2].Status)
	for i, st := range stages {
		assert.Equal(t, i, st.Position)
		if st.Name != StageTest {
			assert.Equal(t, StagePending, st.Status)
		}
	}
}

func TestBuildStagesSkipsTestWhenUnconfigured(t *testing.T) {
	plan := testPlan()
	plan[StageTest] = nil
	stages := buildStages(plan, false)
	assert.Equal(t, StageSkipped, stages[2].Status)
}
