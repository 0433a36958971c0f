// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiops

import (
	"sync"

	"golang.org/x/time/rate"
)

// =============================================================================
// Per-Tenant Rate Limiting
// =============================================================================

// RateConfig holds the per-tenant requests-per-minute budgets.
//
// Generation operations carry the heaviest backend cost and get their own
// budget; review/debug/optimize share the default budget.
type RateConfig struct {
	GenerationRPM int
	DefaultRPM    int
	Burst         int
}

// DefaultRateConfig returns the production budgets: 10 RPM for generation,
// 30 RPM for everything else, burst equal to the per-minute budget.
func DefaultRateConfig() RateConfig {
	return RateConfig{GenerationRPM: 10, DefaultRPM: 30}
}

// tenantLimiter hands out token-bucket limiters keyed by tenant and kind
// class. Each bucket has its own internal lock, so tenants never contend
// with each other past the map lookup.
type tenantLimiter struct {
	config RateConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newTenantLimiter(cfg RateConfig) *tenantLimiter {
	def := DefaultRateConfig()
	if cfg.GenerationRPM <= 0 {
		cfg.GenerationRPM = def.GenerationRPM
	}
	if cfg.DefaultRPM <= 0 {
		cfg.DefaultRPM = def.DefaultRPM
	}
	return &tenantLimiter{
		config:  cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the tenant's bucket for the kind,
// reporting whether the request is within budget.
func (l *tenantLimiter) Allow(tenantID string, kind Kind) bool {
	return l.bucket(tenantID, kind).Allow()
}

func (l *tenantLimiter) bucket(tenantID string, kind Kind) *rate.Limiter {
	rpm := l.config.DefaultRPM
	class := "default"
	if kind == KindGeneration {
		rpm = l.config.GenerationRPM
		class = "generation"
	}
	burst := l.config.Burst
	if burst <= 0 {
		burst = rpm
	}

	key := tenantID + "/" + class
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
		l.buckets[key] = b
	}
	return b
}
