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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTrafficControllerPassesWeight(t *testing.T) {
	ctrl := &CommandTrafficController{
		Runner:        ShellRunner{},
		CanaryCommand: `test "$TRAFFIC_PERCENT" = 5 && test "$TRAFFIC_ARTIFACT" = v2`,
	}

	err := ctrl.SetCanaryWeight(context.Background(), "app1", EnvProduction, "v2", 5)
	require.NoError(t, err)
}

func TestCommandTrafficControllerReportsFailure(t *testing.T) {
	ctrl := &CommandTrafficController{
		Runner:         ShellRunner{},
		PromoteCommand: "exit 7",
	}

	err := ctrl.Promote(context.Background(), "app1", EnvProduction, "v2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 7")
}

func TestCommandTrafficControllerEmptyCommandIsNoop(t *testing.T) {
	ctrl := &CommandTrafficController{Runner: ShellRunner{}}
	require.NoError(t, ctrl.PointTo(context.Background(), "app1", EnvPreview, "v1"))
}

func TestMemoryTrafficControllerTracksServing(t *testing.T) {
	ctrl := NewMemoryTrafficController()
	ctx := context.Background()

	require.NoError(t, ctrl.PointTo(ctx, "app1", EnvProduction, "v1"))
	require.NoError(t, ctrl.SetCanaryWeight(ctx, "app1", EnvProduction, "v2", 5))
	serving, percent := ctrl.Serving("app1", EnvProduction)
	assert.Equal(t, "v1", serving)
	assert.Equal(t, 5, percent)

	require.NoError(t, ctrl.Promote(ctx, "app1", EnvProduction, "v2"))
	serving, percent = ctrl.Serving("app1", EnvProduction)
	assert.Equal(t, "v2", serving)
	assert.Zero(t, percent)
}
