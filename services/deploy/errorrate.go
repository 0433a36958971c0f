// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// =============================================================================
// Error-Rate Sampling
// =============================================================================

// ErrorRateSource samples the live error rate (0.0–1.0) of a deployed
// artifact. The canary gate calls it once per sampling interval.
type ErrorRateSource interface {
	Sample(ctx context.Context, appID string, env Environment, artifactRef string) (float64, error)
}

// InfluxErrorRates samples error rates from request telemetry stored in
// InfluxDB: the ratio of 5xx responses to total responses tagged with the
// candidate artifact over the lookback period.
type InfluxErrorRates struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	bucket   string
	lookback time.Duration
}

var _ ErrorRateSource = (*InfluxErrorRates)(nil)

// NewInfluxErrorRates builds a sampler from INFLUXDB_URL, INFLUXDB_TOKEN,
// INFLUXDB_ORG, and INFLUXDB_BUCKET.
func NewInfluxErrorRates(lookback time.Duration) (*InfluxErrorRates, error) {
	url := os.Getenv("INFLUXDB_URL")
	token := os.Getenv("INFLUXDB_TOKEN")
	org := os.Getenv("INFLUXDB_ORG")
	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "request-telemetry"
	}
	if url == "" || token == "" || org == "" {
		return nil, fmt.Errorf("InfluxDB configuration not set in environment")
	}
	if lookback <= 0 {
		lookback = time.Minute
	}

	client := influxdb2.NewClient(url, token)
	return &InfluxErrorRates{
		client:   client,
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
		lookback: lookback,
	}, nil
}

// Sample returns the 5xx ratio for the artifact over the lookback window.
// A window with no traffic reports 0.0: absence of requests is not treated
// as a failure signal.
func (s *InfluxErrorRates) Sample(ctx context.Context, appID string, env Environment, artifactRef string) (float64, error) {
	query := fmt.Sprintf(`
		total = from(bucket: "%[1]s")
		  |> range(start: -%[2]s)
		  |> filter(fn: (r) => r._measurement == "http_requests")
		  |> filter(fn: (r) => r.app_id == "%[3]s" and r.environment == "%[4]s" and r.artifact == "%[5]s")
		  |> filter(fn: (r) => r._field == "count")
		  |> sum()
		  |> set(key: "class", value: "total")
		errors = from(bucket: "%[1]s")
		  |> range(start: -%[2]s)
		  |> filter(fn: (r) => r._measurement == "http_requests")
		  |> filter(fn: (r) => r.app_id == "%[3]s" and r.environment == "%[4]s" and r.artifact == "%[5]s")
		  |> filter(fn: (r) => r._field == "count" and r.status_class == "5xx")
		  |> sum()
		  |> set(key: "class", value: "errors")
		union(tables: [total, errors])
	`, s.bucket, s.lookback.String(), appID, env, artifactRef)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("error-rate query failed: %w", err)
	}

	var total, errCount float64
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			if iv, isInt := record.Value().(int64); isInt {
				value = float64(iv)
			} else {
				continue
			}
		}
		switch record.ValueByKey("class") {
		case "total":
			total = value
		case "errors":
			errCount = value
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error-rate result read failed: %w", result.Err())
	}
	if total == 0 {
		return 0, nil
	}
	return errCount / total, nil
}

// Close releases the underlying client.
func (s *InfluxErrorRates) Close() {
	s.client.Close()
}

// =============================================================================
// Fallback Source
// =============================================================================

// ZeroErrorRates always reports a healthy canary. It stands in when no
// telemetry backend is configured, so every canary promotes after its
// observation window.
type ZeroErrorRates struct{}

var _ ErrorRateSource = ZeroErrorRates{}

func (ZeroErrorRates) Sample(ctx context.Context, appID string, env Environment, artifactRef string) (float64, error) {
	return 0, nil
}
