// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request and response types of the
// orchestrator's public HTTP surface.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// apiValidate is the shared validator instance for API request types.
var apiValidate = validator.New()

// =============================================================================
// Operation Requests
// =============================================================================

// SubmitOperationRequest is the body of POST /v1/operations.
//
// # Validation
//
// Uses go-playground/validator:
//   - SessionID: required
//   - Kind: required, one of generation|review|debug|optimize
//   - Prompt: required, max 32768 bytes
type SubmitOperationRequest struct {
	SessionID       string `json:"session_id" validate:"required"`
	Kind            string `json:"kind" validate:"required,oneof=generation review debug optimize"`
	Prompt          string `json:"prompt" validate:"required,max=32768"`
	Context         string `json:"context,omitempty" validate:"max=65536"`
	SandboxTemplate string `json:"sandbox_template,omitempty"`
}

// Validate validates the request after JSON binding.
func (r *SubmitOperationRequest) Validate() error {
	return apiValidate.Struct(r)
}

// SubmitOperationResponse is the body returned by POST /v1/operations.
type SubmitOperationResponse struct {
	OperationID string `json:"operation_id"`
	State       string `json:"state"`
}

// =============================================================================
// Pipeline Requests
// =============================================================================

// StartPipelineRequest is the body of POST /v1/pipelines.
//
// # Validation
//
// Uses go-playground/validator:
//   - AppID: required
//   - Environment: required, one of preview|production
//   - ArtifactRef: required
type StartPipelineRequest struct {
	AppID       string `json:"app_id" validate:"required"`
	Environment string `json:"environment" validate:"required,oneof=preview production"`
	ArtifactRef string `json:"artifact_ref" validate:"required"`
	SkipTests   bool   `json:"skip_tests,omitempty"`
}

// Validate validates the request after JSON binding.
func (r *StartPipelineRequest) Validate() error {
	return apiValidate.Struct(r)
}

// StartPipelineResponse is the body returned by POST /v1/pipelines.
type StartPipelineResponse struct {
	PipelineRunID string `json:"pipeline_run_id"`
	State         string `json:"state"`
}
