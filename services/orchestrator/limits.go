// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Per-Deployment Limits
// =============================================================================

// Duration wraps time.Duration for YAML fields written as "5m" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Limits holds the operator-tunable quota and timing parameters. Every
// field has a production default; a limits file overrides selectively.
type Limits struct {
	Sandbox struct {
		TenantCeiling int      `yaml:"tenant_ceiling" validate:"gte=0,lte=1000"`
		WallClock     Duration `yaml:"wall_clock"`
		IdleTimeout   Duration `yaml:"idle_timeout"`
		ReapInterval  Duration `yaml:"reap_interval"`
	} `yaml:"sandbox"`

	Operations struct {
		Workers       int      `yaml:"workers" validate:"gte=0,lte=10000"`
		MaxRetries    int      `yaml:"max_retries" validate:"gte=0,lte=10"`
		GenerationRPM int      `yaml:"generation_rpm" validate:"gte=0"`
		DefaultRPM    int      `yaml:"default_rpm" validate:"gte=0"`
		BackendCall   Duration `yaml:"backend_call"`
		Execute       Duration `yaml:"execute"`
	} `yaml:"operations"`

	Canary struct {
		TrafficPercent int      `yaml:"traffic_percent" validate:"gte=0,lte=100"`
		Window         Duration `yaml:"window"`
		SampleInterval Duration `yaml:"sample_interval"`
		ErrorThreshold float64  `yaml:"error_threshold" validate:"gte=0,lte=1"`
	} `yaml:"canary"`
}

var limitsValidate = validator.New()

// LoadLimits reads and validates a limits file. An empty path returns zero
// limits, which leave every component on its built-in defaults.
func LoadLimits(path string) (Limits, error) {
	var limits Limits
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("failed to read limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("failed to parse limits file: %w", err)
	}
	if err := limitsValidate.Struct(&limits); err != nil {
		return limits, fmt.Errorf("invalid limits file: %w", err)
	}
	return limits, nil
}
