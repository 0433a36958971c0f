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

import "errors"

// Sentinel errors for the aiops package.
var (
	// ErrSessionBusy indicates the session already has a non-terminal
	// operation in flight.
	ErrSessionBusy = errors.New("session already has an active operation")

	// ErrRateLimited indicates the tenant exhausted its per-minute budget.
	ErrRateLimited = errors.New("tenant rate limit exceeded")

	// ErrValidation indicates a malformed submission (bad kind, empty
	// prompt). Never retried.
	ErrValidation = errors.New("invalid operation request")

	// ErrOperationNotFound indicates an unknown operation id.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrShuttingDown indicates the orchestrator no longer accepts work.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// Backend error classification. The worker retry loop absorbs retriable
// failures up to the retry budget; non-retriable failures surface
// immediately.
var (
	// ErrBackendRateLimited maps HTTP 429 from the AI backend. Retriable.
	ErrBackendRateLimited = errors.New("ai backend rate limited")

	// ErrBackendUnavailable maps timeouts and 5xx from the AI backend.
	// Retriable.
	ErrBackendUnavailable = errors.New("ai backend unavailable")

	// ErrBackendRejected maps non-429 4xx responses: the request itself is
	// bad (malformed payload, policy rejection). Never retried.
	ErrBackendRejected = errors.New("ai backend rejected request")
)

// retriable reports whether a backend failure is worth another attempt.
func retriable(err error) bool {
	return errors.Is(err, ErrBackendRateLimited) || errors.Is(err, ErrBackendUnavailable)
}
