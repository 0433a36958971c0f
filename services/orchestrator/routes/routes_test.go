// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/deploy"
	"github.com/pria-cloud/buildcore/services/sandbox"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockBackend is a minimal aiops.Backend.
type mockBackend struct{}

func (mockBackend) Generate(_ context.Context, _ aiops.GenerateRequest) (aiops.GenerateResult, error) {
	return aiops.GenerateResult{Content: "mock response"}, nil
}

// mockProvider is a minimal sandbox.Provider.
type mockProvider struct{}

func (mockProvider) Provision(_ context.Context, _ sandbox.ProvisionRequest) (string, error) {
	return "ref-1", nil
}

func (mockProvider) Run(_ context.Context, _, _ string) (sandbox.RunResult, error) {
	return sandbox.RunResult{}, nil
}

func (mockProvider) PreviewLink(_ context.Context, ref string, port int) (sandbox.PreviewLink, error) {
	return sandbox.PreviewLink{URL: "https://preview.example/" + ref, Port: port}, nil
}

func (mockProvider) Teardown(_ context.Context, _ string) error {
	return nil
}

// mockRunner is a minimal deploy.CommandRunner.
type mockRunner struct{}

func (mockRunner) Run(_ context.Context, _ deploy.CommandContext, _ string) (deploy.CommandResult, error) {
	return deploy.CommandResult{}, nil
}

// mockRates is a minimal deploy.ErrorRateSource.
type mockRates struct{}

func (mockRates) Sample(_ context.Context, _ string, _ deploy.Environment, _ string) (float64, error) {
	return 0, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	pool := sandbox.NewPool(mockProvider{}, sandbox.DefaultPoolConfig())

	orch := aiops.NewOrchestrator(mockBackend{}, pool, aiops.NewMemoryStore(),
		aiops.OrchestratorConfig{Workers: 1})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	mgr := deploy.NewManager(mockRunner{}, deploy.NewMemoryTrafficController(),
		mockRates{}, deploy.ManagerConfig{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	router := gin.New()
	SetupRoutes(router, pool, orch, mgr)
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAllEndpoints(t *testing.T) {
	router := newTestRouter(t)

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/operations"},
		{"GET", "/v1/operations/:operationId"},
		{"POST", "/v1/operations/:operationId/cancel"},
		{"POST", "/v1/pipelines"},
		{"GET", "/v1/pipelines/:pipelineId"},
		{"POST", "/v1/pipelines/:pipelineId/rollback"},
		{"GET", "/v1/sandboxes/:sandboxId/preview"},
		{"DELETE", "/v1/sandboxes/:sandboxId"},
	}

	routes := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Route not registered: %s %s", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_HealthCheck(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health check status: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsExposed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("metrics status: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_UnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}
