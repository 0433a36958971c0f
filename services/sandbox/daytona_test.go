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

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaytona(t *testing.T, handler http.Handler) *DaytonaProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &DaytonaProvider{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		apiKey:     "test-key",
		target:     "us",
	}
}

func TestDaytonaProvider_Provision(t *testing.T) {
	provider := newTestDaytona(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sandbox", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req daytonaCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "node", req.Template)
		assert.Equal(t, 2, req.CPU)
		assert.Equal(t, "us", req.Target)

		_ = json.NewEncoder(w).Encode(daytonaCreateResponse{ID: "sb-123"})
	}))

	ref, err := provider.Provision(context.Background(), ProvisionRequest{Template: "node"})
	require.NoError(t, err)
	assert.Equal(t, "sb-123", ref)
}

func TestDaytonaProvider_Run(t *testing.T) {
	provider := newTestDaytona(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sandbox/sb-123/process/code-run", r.URL.Path)
		_ = json.NewEncoder(w).Encode(daytonaCodeRunResponse{
			Stdout:   "hello",
			ExitCode: 0,
		})
	}))

	out, err := provider.Run(context.Background(), "sb-123", "print('hello')")
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Stdout)
	assert.Equal(t, 0, out.ExitCode)
}

func TestDaytonaProvider_PreviewLink(t *testing.T) {
	provider := newTestDaytona(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sandbox/sb-123/preview/3000", r.URL.Path)
		_ = json.NewEncoder(w).Encode(daytonaPreviewResponse{
			URL:   "https://3000-sb-123.daytona.app",
			Token: "preview-token",
		})
	}))

	link, err := provider.PreviewLink(context.Background(), "sb-123", 3000)
	require.NoError(t, err)
	assert.Equal(t, "https://3000-sb-123.daytona.app", link.URL)
	assert.Equal(t, "preview-token", link.Token)
	assert.Equal(t, 3000, link.Port)
}

func TestDaytonaProvider_ServerError(t *testing.T) {
	provider := newTestDaytona(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))

	_, err := provider.Provision(context.Background(), ProvisionRequest{})
	require.ErrorIs(t, err, ErrProvider)

	err = provider.Teardown(context.Background(), "sb-123")
	require.ErrorIs(t, err, ErrProvider)
}
