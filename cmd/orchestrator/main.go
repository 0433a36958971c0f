// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the BuildCore orchestration HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12300)
//   - BUILDCORE_DATA_DIR: operation store directory (default: in-memory)
//   - BUILDCORE_LIMITS_FILE: path to the YAML limits file (optional)
//   - BUILDCORE_WORK_ROOT: pipeline workspace directory (default: system temp)
//   - TRAFFIC_CANARY_COMMAND: shell command for canary weight shifts (optional)
//   - TRAFFIC_PROMOTE_COMMAND: shell command for canary promotion (optional)
//   - TRAFFIC_POINT_COMMAND: shell command for direct artifact pointing (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: buildcore-otel-collector:4317)
//   - DAYTONA_API_KEY: sandbox provider credentials (required)
//   - OPENAI_API_KEY: AI backend credentials (required)
//   - INFLUXDB_URL / INFLUXDB_TOKEN / INFLUXDB_ORG: canary telemetry (optional)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/pria-cloud/buildcore/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:           getEnvInt("ORCHESTRATOR_PORT", 12300),
		DataDir:        os.Getenv("BUILDCORE_DATA_DIR"),
		LimitsPath:     os.Getenv("BUILDCORE_LIMITS_FILE"),
		WorkRoot:       os.Getenv("BUILDCORE_WORK_ROOT"),
		CanaryCommand:  os.Getenv("TRAFFIC_CANARY_COMMAND"),
		PromoteCommand: os.Getenv("TRAFFIC_PROMOTE_COMMAND"),
		PointCommand:   os.Getenv("TRAFFIC_POINT_COMMAND"),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "buildcore-otel-collector:4317"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"limits_file", cfg.LimitsPath,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
