// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pria-cloud/buildcore/services/orchestrator/middleware"
	"github.com/pria-cloud/buildcore/services/sandbox"
)

// defaultPreviewPort is the dev-server port exposed by sandbox templates.
const defaultPreviewPort = 3000

// GetSandboxPreview returns a browser-reachable preview link for an app
// running inside the sandbox.
//
// The port defaults to 3000 and can be overridden with ?port=.
func GetSandboxPreview(pool *sandbox.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle := sandbox.Handle{
			ID:       c.Param("sandboxId"),
			TenantID: middleware.GetTenantID(c),
		}

		port := defaultPreviewPort
		if raw := c.Query("port"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 65535 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
				return
			}
			port = parsed
		}

		link, err := pool.PreviewLink(c.Request.Context(), handle, port)
		if err != nil {
			writeSandboxError(c, err)
			return
		}
		c.JSON(http.StatusOK, link)
	}
}

// ReleaseSandbox marks a sandbox for reclamation. Idempotent.
func ReleaseSandbox(pool *sandbox.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle := sandbox.Handle{
			ID:       c.Param("sandboxId"),
			TenantID: middleware.GetTenantID(c),
		}
		if err := pool.Release(c.Request.Context(), handle); err != nil {
			writeSandboxError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sandbox_id": handle.ID, "state": string(sandbox.StateReleased)})
	}
}

// writeSandboxError maps sandbox errors onto HTTP status codes.
func writeSandboxError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sandbox.ErrSandboxNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sandbox.ErrResourceLimitExceeded):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, sandbox.ErrSandboxBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("Sandbox request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "sandbox provider error"})
	}
}
