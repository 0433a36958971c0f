// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "context"

// ProvisionRequest is the provider-facing shape of a sandbox request.
type ProvisionRequest struct {
	Template  string            `json:"template"`
	Resources ResourceSpec      `json:"resources"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// RunResult is the raw outcome of a provider process run.
type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Provider defines the contract for an external sandbox execution provider.
//
// # Description
//
// Provider abstracts the hosted execution platform (Daytona in production).
// The Pool wraps every call with its own deadline and capacity bookkeeping;
// implementations only need to speak the provider API.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run calls for different
// provider handles must not serialize against each other.
type Provider interface {
	// Provision creates a new sandbox and returns the provider-side handle.
	Provision(ctx context.Context, req ProvisionRequest) (string, error)

	// Run executes code inside the sandbox identified by providerRef.
	// The call blocks until the process exits or ctx is done.
	Run(ctx context.Context, providerRef string, code string) (RunResult, error)

	// PreviewLink returns a routable URL plus auth token for a sandbox port.
	PreviewLink(ctx context.Context, providerRef string, port int) (PreviewLink, error)

	// Teardown destroys the sandbox. Best effort; callers treat errors as
	// non-fatal because the reaper retries destruction on the next sweep.
	Teardown(ctx context.Context, providerRef string) error
}
