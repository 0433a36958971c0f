// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/deploy"
	"github.com/pria-cloud/buildcore/services/orchestrator/handlers"
	"github.com/pria-cloud/buildcore/services/orchestrator/middleware"
	"github.com/pria-cloud/buildcore/services/sandbox"
)

// SetupRoutes registers all HTTP endpoints on the router.
func SetupRoutes(router *gin.Engine, pool *sandbox.Pool, ops *aiops.Orchestrator,
	pipelines *deploy.Manager) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.TenantMiddleware())
	{
		operations := v1.Group("/operations")
		{
			operations.POST("", handlers.SubmitOperation(ops))
			operations.GET("/:operationId", handlers.GetOperation(ops))
			operations.POST("/:operationId/cancel", handlers.CancelOperation(ops))
		}

		pipelineRoutes := v1.Group("/pipelines")
		{
			pipelineRoutes.POST("", handlers.StartPipeline(pipelines))
			pipelineRoutes.GET("/:pipelineId", handlers.GetPipeline(pipelines))
			pipelineRoutes.POST("/:pipelineId/rollback", handlers.RollbackPipeline(pipelines))
		}

		sandboxes := v1.Group("/sandboxes")
		{
			sandboxes.GET("/:sandboxId/preview", handlers.GetSandboxPreview(pool))
			sandboxes.DELETE("/:sandboxId", handlers.ReleaseSandbox(pool))
		}
	}
}
