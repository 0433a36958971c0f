// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
)

func validSubmit() SubmitOperationRequest {
	return SubmitOperationRequest{
		SessionID: "sess-1",
		Kind:      "generation",
		Prompt:    "add a login page",
	}
}

func TestSubmitOperationRequest_Valid(t *testing.T) {
	req := validSubmit()
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestSubmitOperationRequest_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SubmitOperationRequest)
	}{
		{"missing session", func(r *SubmitOperationRequest) { r.SessionID = "" }},
		{"missing prompt", func(r *SubmitOperationRequest) { r.Prompt = "" }},
		{"unknown kind", func(r *SubmitOperationRequest) { r.Kind = "translate" }},
		{"oversized prompt", func(r *SubmitOperationRequest) { r.Prompt = strings.Repeat("x", 32769) }},
		{"oversized context", func(r *SubmitOperationRequest) { r.Context = strings.Repeat("x", 65537) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSubmit()
			tc.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func validStart() StartPipelineRequest {
	return StartPipelineRequest{
		AppID:       "app-1",
		Environment: "production",
		ArtifactRef: "https://git.example.com/app-1.git",
	}
}

func TestStartPipelineRequest_Valid(t *testing.T) {
	req := validStart()
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestStartPipelineRequest_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*StartPipelineRequest)
	}{
		{"missing app", func(r *StartPipelineRequest) { r.AppID = "" }},
		{"missing artifact", func(r *StartPipelineRequest) { r.ArtifactRef = "" }},
		{"unknown environment", func(r *StartPipelineRequest) { r.Environment = "staging" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validStart()
			tc.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
