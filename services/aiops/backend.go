// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiops

import "context"

// GenerateRequest is the input to one AI backend call.
type GenerateRequest struct {
	Kind    Kind   `json:"kind"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// GenerateResult is the backend's response.
type GenerateResult struct {
	// Content is the full generated text.
	Content string `json:"content"`

	// FilesModified lists workspace paths the generation touched.
	FilesModified []string `json:"files_modified,omitempty"`

	// Code is the first executable code block extracted from Content,
	// empty when the response contains nothing to validate in a sandbox.
	Code string `json:"code,omitempty"`
}

// Backend defines the standard interface for any AI generation backend.
//
// Implementations classify failures using the ErrBackend* sentinels so the
// worker retry loop can tell transient faults (429, 5xx, timeouts) from
// request rejections (other 4xx).
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}
