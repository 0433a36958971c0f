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

	"github.com/gin-gonic/gin"

	"github.com/pria-cloud/buildcore/services/deploy"
	"github.com/pria-cloud/buildcore/services/orchestrator/datatypes"
)

// StartPipeline starts a staged deploy for an application+environment.
//
// Returns 202 with the run id; the run progresses asynchronously and is
// observed via GET /v1/pipelines/:pipelineId.
func StartPipeline(mgr *deploy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartPipelineRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID, err := mgr.Start(c.Request.Context(), deploy.StartRequest{
			AppID:       req.AppID,
			Environment: deploy.Environment(req.Environment),
			ArtifactRef: req.ArtifactRef,
			SkipTests:   req.SkipTests,
		})
		if err != nil {
			writePipelineError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, datatypes.StartPipelineResponse{
			PipelineRunID: runID,
			State:         string(deploy.RunRunning),
		})
	}
}

// GetPipeline returns the full run record: stages with captured logs,
// canary samples, and the terminal state once reached.
func GetPipeline(mgr *deploy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := mgr.Status(c.Request.Context(), c.Param("pipelineId"))
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// RollbackPipeline re-points traffic at the deployment preceding this run.
func RollbackPipeline(mgr *deploy.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("pipelineId")
		if err := mgr.Rollback(c.Request.Context(), runID); err != nil {
			writePipelineError(c, err)
			return
		}
		slog.Info("Rollback requested via API", "run_id", runID)
		c.JSON(http.StatusOK, gin.H{"pipeline_run_id": runID, "state": string(deploy.RunRolledBack)})
	}
}

// writePipelineError maps deploy errors onto HTTP status codes.
func writePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deploy.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, deploy.ErrPipelineAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, deploy.ErrRollbackUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, deploy.ErrPipelineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, deploy.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Pipeline request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
