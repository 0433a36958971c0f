// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the orchestrator's HTTP endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/orchestrator/datatypes"
	"github.com/pria-cloud/buildcore/services/orchestrator/middleware"
	"github.com/pria-cloud/buildcore/services/orchestrator/observability"
)

// SubmitOperation accepts an AI operation for asynchronous execution.
//
// Returns 202 with the operation id; progress is observed by polling
// GET /v1/operations/:operationId.
func SubmitOperation(orch *aiops.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitOperationRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			rejected("validation")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tenantID := middleware.GetTenantID(c)
		opID, err := orch.Submit(c.Request.Context(), tenantID, req.SessionID,
			aiops.Kind(req.Kind), aiops.Payload{
				Prompt:          req.Prompt,
				Context:         req.Context,
				SandboxTemplate: req.SandboxTemplate,
			})
		if err != nil {
			writeOperationError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, datatypes.SubmitOperationResponse{
			OperationID: opID,
			State:       string(aiops.OpQueued),
		})
	}
}

// GetOperation returns the full operation record, including its transition
// log and, once terminal, the result or failure reason.
func GetOperation(orch *aiops.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := orch.Status(c.Request.Context(), c.Param("operationId"))
		if err != nil {
			writeOperationError(c, err)
			return
		}
		if op.TenantID != middleware.GetTenantID(c) {
			// Another tenant's operation is indistinguishable from a
			// missing one.
			c.JSON(http.StatusNotFound, gin.H{"error": aiops.ErrOperationNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

// CancelOperation requests best-effort cancellation of an operation.
func CancelOperation(orch *aiops.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		operationID := c.Param("operationId")
		op, err := orch.Status(c.Request.Context(), operationID)
		if err != nil {
			writeOperationError(c, err)
			return
		}
		if op.TenantID != middleware.GetTenantID(c) {
			// Another tenant's operation is indistinguishable from a
			// missing one.
			c.JSON(http.StatusNotFound, gin.H{"error": aiops.ErrOperationNotFound.Error()})
			return
		}
		if err := orch.Cancel(c.Request.Context(), operationID); err != nil {
			writeOperationError(c, err)
			return
		}
		slog.Info("Cancellation requested via API", "operation_id", operationID)
		c.JSON(http.StatusAccepted, gin.H{"operation_id": operationID})
	}
}

// writeOperationError maps aiops errors onto HTTP status codes.
func writeOperationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, aiops.ErrValidation):
		rejected("validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, aiops.ErrSessionBusy):
		rejected("session_busy")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, aiops.ErrRateLimited):
		rejected("rate_limited")
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, aiops.ErrOperationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, aiops.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Operation request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// rejected bumps the rejection counter when metrics are initialized.
func rejected(reason string) {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.OperationsRejectedTotal.WithLabelValues(reason).Inc()
	}
}
