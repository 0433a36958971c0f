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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("buildcore.sandbox.daytona")

// DaytonaProvider implements Provider against the Daytona REST API.
type DaytonaProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	target     string
}

type daytonaCreateRequest struct {
	Template string            `json:"template,omitempty"`
	Target   string            `json:"target,omitempty"`
	CPU      int               `json:"cpu"`
	Memory   int               `json:"memory"`
	Disk     int               `json:"disk"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type daytonaCreateResponse struct {
	ID string `json:"id"`
}

type daytonaCodeRunRequest struct {
	Code string `json:"code"`
}

type daytonaCodeRunResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

type daytonaPreviewResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// NewDaytonaProvider builds a provider from DAYTONA_API_URL, DAYTONA_API_KEY
// and DAYTONA_TARGET. The API key is required; the target defaults to "us".
func NewDaytonaProvider() (*DaytonaProvider, error) {
	baseURL := os.Getenv("DAYTONA_API_URL")
	apiKey := os.Getenv("DAYTONA_API_KEY")
	target := os.Getenv("DAYTONA_TARGET")
	if baseURL == "" {
		baseURL = "https://api.daytona.io"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("DAYTONA_API_KEY environment variable not set")
	}
	if target == "" {
		target = "us"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Daytona provider", "base_url", baseURL, "target", target)
	return &DaytonaProvider{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		apiKey:     apiKey,
		target:     target,
	}, nil
}

// Provision implements the Provider interface.
func (d *DaytonaProvider) Provision(ctx context.Context, req ProvisionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "DaytonaProvider.Provision")
	defer span.End()
	span.SetAttributes(attribute.String("sandbox.template", req.Template))

	res := req.Resources
	if res == (ResourceSpec{}) {
		res = DefaultResources()
	}
	payload := daytonaCreateRequest{
		Template: req.Template,
		Target:   d.target,
		CPU:      res.CPUCores,
		Memory:   res.MemoryGB,
		Disk:     res.DiskGB,
		Labels:   req.Labels,
	}

	var created daytonaCreateResponse
	if err := d.doJSON(ctx, http.MethodPost, "/sandbox", payload, &created); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	slog.Debug("Daytona sandbox provisioned", "provider_ref", created.ID)
	return created.ID, nil
}

// Run implements the Provider interface.
func (d *DaytonaProvider) Run(ctx context.Context, providerRef string, code string) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "DaytonaProvider.Run")
	defer span.End()
	span.SetAttributes(attribute.String("sandbox.provider_ref", providerRef))

	var out daytonaCodeRunResponse
	path := fmt.Sprintf("/sandbox/%s/process/code-run", providerRef)
	if err := d.doJSON(ctx, http.MethodPost, path, daytonaCodeRunRequest{Code: code}, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}
	return RunResult{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

// PreviewLink implements the Provider interface.
func (d *DaytonaProvider) PreviewLink(ctx context.Context, providerRef string, port int) (PreviewLink, error) {
	ctx, span := tracer.Start(ctx, "DaytonaProvider.PreviewLink")
	defer span.End()

	var out daytonaPreviewResponse
	path := fmt.Sprintf("/sandbox/%s/preview/%d", providerRef, port)
	if err := d.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PreviewLink{}, err
	}
	return PreviewLink{URL: out.URL, Token: out.Token, Port: port}, nil
}

// Teardown implements the Provider interface.
func (d *DaytonaProvider) Teardown(ctx context.Context, providerRef string) error {
	ctx, span := tracer.Start(ctx, "DaytonaProvider.Teardown")
	defer span.End()

	path := fmt.Sprintf("/sandbox/%s", providerRef)
	if err := d.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// doJSON sends one authenticated request and decodes the JSON response.
func (d *DaytonaProvider) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal daytona request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create daytona request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read daytona response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: daytona API returned status %d: %s",
			ErrProvider, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode daytona response: %w", err)
		}
	}
	return nil
}

var _ Provider = (*DaytonaProvider)(nil)
