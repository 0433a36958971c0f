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

import "errors"

// Sentinel errors for the sandbox package.
var (
	// ErrResourceLimitExceeded indicates the tenant is at its sandbox ceiling.
	ErrResourceLimitExceeded = errors.New("tenant sandbox quota exceeded")

	// ErrSandboxNotFound indicates the handle references a destroyed,
	// expired, or unknown sandbox.
	ErrSandboxNotFound = errors.New("sandbox not found")

	// ErrExecutionTimeout indicates an Execute call exceeded its deadline.
	ErrExecutionTimeout = errors.New("sandbox execution timed out")

	// ErrSandboxBusy indicates an Execute call raced with another one on
	// the same sandbox.
	ErrSandboxBusy = errors.New("sandbox is executing")

	// ErrProvider indicates the external execution provider failed.
	ErrProvider = errors.New("sandbox provider error")
)
