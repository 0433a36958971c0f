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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pria-cloud/buildcore/services/aiops"
	"github.com/pria-cloud/buildcore/services/orchestrator/middleware"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// stubBackend returns a fixed response for every generation call. With a
// gate set, calls block until the gate closes, holding operations in the
// running state.
type stubBackend struct {
	content string
	gate    chan struct{}
}

func (b *stubBackend) Generate(ctx context.Context, req aiops.GenerateRequest) (aiops.GenerateResult, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return aiops.GenerateResult{}, ctx.Err()
		}
	}
	return aiops.GenerateResult{Content: b.content}, nil
}

func newOperationsRouter(t *testing.T) (*gin.Engine, *aiops.Orchestrator) {
	t.Helper()

	orch := aiops.NewOrchestrator(&stubBackend{content: "done"}, nil,
		aiops.NewMemoryStore(), aiops.OrchestratorConfig{
			Workers:          2,
			RetryBackoffBase: time.Millisecond,
		})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	router := gin.New()
	router.Use(middleware.TenantMiddleware())
	router.POST("/v1/operations", SubmitOperation(orch))
	router.GET("/v1/operations/:operationId", GetOperation(orch))
	router.POST("/v1/operations/:operationId/cancel", CancelOperation(orch))
	return router, orch
}

func submitBody(sessionID string) string {
	return `{"session_id":"` + sessionID + `","kind":"review","prompt":"check the auth flow"}`
}

func doJSON(router *gin.Engine, method, path, body, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestSubmitOperation_Accepted(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-1"), "tenant-a")

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["operation_id"])
	assert.Equal(t, "queued", resp["state"])
}

func TestSubmitOperation_InvalidBody(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations", "{not json", "tenant-a")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitOperation_ValidationFailure(t *testing.T) {
	router, _ := newOperationsRouter(t)

	// Unsupported kind fails request validation before reaching the
	// orchestrator.
	body := `{"session_id":"sess-1","kind":"translate","prompt":"hi"}`
	w := doJSON(router, http.MethodPost, "/v1/operations", body, "tenant-a")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitOperation_SessionBusyConflict(t *testing.T) {
	gate := make(chan struct{})
	orch := aiops.NewOrchestrator(&stubBackend{content: "done", gate: gate}, nil,
		aiops.NewMemoryStore(), aiops.OrchestratorConfig{
			Workers:          1,
			RetryBackoffBase: time.Millisecond,
		})
	t.Cleanup(func() {
		close(gate)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	router := gin.New()
	router.Use(middleware.TenantMiddleware())
	router.POST("/v1/operations", SubmitOperation(orch))

	first := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-busy"), "tenant-a")
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-busy"), "tenant-a")
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestSubmitOperation_RateLimited(t *testing.T) {
	orch := aiops.NewOrchestrator(&stubBackend{content: "done"}, nil,
		aiops.NewMemoryStore(), aiops.OrchestratorConfig{
			Workers:          1,
			RetryBackoffBase: time.Millisecond,
			Rate:             aiops.RateConfig{GenerationRPM: 1, DefaultRPM: 1, Burst: 1},
		})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	router := gin.New()
	router.Use(middleware.TenantMiddleware())
	router.POST("/v1/operations", SubmitOperation(orch))

	first := doJSON(router, http.MethodPost, "/v1/operations", submitBody("s1"), "tenant-a")
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doJSON(router, http.MethodPost, "/v1/operations", submitBody("s2"), "tenant-a")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

// =============================================================================
// Status and Cancel Tests
// =============================================================================

func TestGetOperation_ReturnsRecord(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-get"), "tenant-a")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	opID := resp["operation_id"]

	status := doJSON(router, http.MethodGet, "/v1/operations/"+opID, "", "tenant-a")
	require.Equal(t, http.StatusOK, status.Code)

	var op aiops.Operation
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &op))
	assert.Equal(t, opID, op.ID)
	assert.Equal(t, "tenant-a", op.TenantID)
}

func TestGetOperation_CrossTenantIsNotFound(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-x"), "tenant-a")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	status := doJSON(router, http.MethodGet, "/v1/operations/"+resp["operation_id"], "", "tenant-b")
	assert.Equal(t, http.StatusNotFound, status.Code)
}

func TestGetOperation_Unknown(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodGet, "/v1/operations/nope", "", "tenant-a")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOperation_Accepted(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-c"), "tenant-a")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	cancelResp := doJSON(router, http.MethodPost,
		"/v1/operations/"+resp["operation_id"]+"/cancel", "", "tenant-a")
	assert.Equal(t, http.StatusAccepted, cancelResp.Code)
}

func TestCancelOperation_Unknown(t *testing.T) {
	router, _ := newOperationsRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/operations/nope/cancel", "", "tenant-a")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOperation_CrossTenantIsNotFound(t *testing.T) {
	gate := make(chan struct{})
	orch := aiops.NewOrchestrator(&stubBackend{content: "done", gate: gate}, nil,
		aiops.NewMemoryStore(), aiops.OrchestratorConfig{
			Workers:          1,
			RetryBackoffBase: time.Millisecond,
		})
	t.Cleanup(func() {
		close(gate)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	router := gin.New()
	router.Use(middleware.TenantMiddleware())
	router.POST("/v1/operations", SubmitOperation(orch))
	router.POST("/v1/operations/:operationId/cancel", CancelOperation(orch))

	w := doJSON(router, http.MethodPost, "/v1/operations", submitBody("sess-ct"), "tenant-a")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	cancelResp := doJSON(router, http.MethodPost,
		"/v1/operations/"+resp["operation_id"]+"/cancel", "", "tenant-b")
	assert.Equal(t, http.StatusNotFound, cancelResp.Code)

	// The owner's operation is untouched by the foreign cancel attempt.
	op, err := orch.Status(context.Background(), resp["operation_id"])
	require.NoError(t, err)
	assert.NotEqual(t, aiops.OpCancelling, op.State)
	assert.NotEqual(t, aiops.OpCancelled, op.State)
}
