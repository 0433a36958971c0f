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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperLifecycle(t *testing.T) {
	provider := newFakeProvider()
	pool, _ := newTestPool(t, provider, PoolConfig{})
	reaper := NewReaper(pool, ReaperConfig{Interval: time.Hour})

	require.NoError(t, reaper.Start(context.Background()))
	require.Error(t, reaper.Start(context.Background()), "second Start must fail")

	reaper.Stop()
	reaper.Stop() // Safe to call twice

	// Restart after stop is allowed.
	require.NoError(t, reaper.Start(context.Background()))
	reaper.Stop()
}

func TestReaperRunNow(t *testing.T) {
	provider := newFakeProvider()
	pool, clock := newTestPool(t, provider, PoolConfig{DefaultTimeout: time.Minute})
	reaper := NewReaper(pool, ReaperConfig{})

	_, err := pool.Create(context.Background(), "tenant-a", Config{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	result := reaper.RunNow(context.Background())
	assert.Equal(t, 1, result.Expired)
}

func TestReaperSweepsOnTick(t *testing.T) {
	provider := newFakeProvider()
	pool, clock := newTestPool(t, provider, PoolConfig{DefaultTimeout: time.Minute})
	reaper := NewReaper(pool, ReaperConfig{Interval: 10 * time.Millisecond})

	_, err := pool.Create(context.Background(), "tenant-a", Config{})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	require.NoError(t, reaper.Start(context.Background()))
	defer reaper.Stop()

	require.Eventually(t, func() bool {
		return pool.TenantLiveCount("tenant-a") == 0
	}, time.Second, 5*time.Millisecond)
}
