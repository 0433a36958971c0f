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

import "errors"

// Sentinel errors for the deploy package.
var (
	// ErrPipelineAlreadyRunning indicates an active run already exists for
	// the application+environment pair.
	ErrPipelineAlreadyRunning = errors.New("pipeline already running for this target")

	// ErrPipelineNotFound indicates an unknown pipeline run id.
	ErrPipelineNotFound = errors.New("pipeline run not found")

	// ErrValidation indicates a malformed start request.
	ErrValidation = errors.New("invalid pipeline request")

	// ErrRollbackUnavailable indicates the run's deploy stage never
	// completed, or no prior successful deployment exists to revert to.
	ErrRollbackUnavailable = errors.New("rollback unavailable for this run")

	// ErrCanaryThresholdExceeded indicates the sampled canary error rate
	// crossed the configured threshold; the canary was rolled back.
	ErrCanaryThresholdExceeded = errors.New("canary error rate exceeded threshold")

	// ErrShuttingDown indicates the manager no longer accepts new runs.
	ErrShuttingDown = errors.New("pipeline manager is shutting down")
)
