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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Doubles
// =============================================================================

// manualClock is a settable clock for deterministic expiry tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider implements Provider in memory.
type fakeProvider struct {
	provisions atomic.Int32
	teardowns  atomic.Int32

	provisionErr error
	runFn        func(ctx context.Context, providerRef, code string) (RunResult, error)

	// A non-nil gate blocks Provision until it closes; provisionStarted
	// receives once per call while blocked.
	provisionGate    chan struct{}
	provisionStarted chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{}
}

func (f *fakeProvider) Provision(ctx context.Context, req ProvisionRequest) (string, error) {
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	if f.provisionGate != nil {
		if f.provisionStarted != nil {
			select {
			case f.provisionStarted <- struct{}{}:
			default:
			}
		}
		select {
		case <-f.provisionGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n := f.provisions.Add(1)
	return fmt.Sprintf("prov-%d", n), nil
}

func (f *fakeProvider) Run(ctx context.Context, providerRef, code string) (RunResult, error) {
	if f.runFn != nil {
		return f.runFn(ctx, providerRef, code)
	}
	return RunResult{Stdout: "ok", ExitCode: 0}, nil
}

func (f *fakeProvider) PreviewLink(ctx context.Context, providerRef string, port int) (PreviewLink, error) {
	return PreviewLink{URL: "https://preview.example/" + providerRef, Token: "tok", Port: port}, nil
}

func (f *fakeProvider) Teardown(ctx context.Context, providerRef string) error {
	f.teardowns.Add(1)
	return nil
}

func newTestPool(t *testing.T, provider Provider, cfg PoolConfig) (*Pool, *manualClock) {
	t.Helper()
	pool := NewPool(provider, cfg)
	clock := newManualClock()
	pool.clock = clock
	return pool, clock
}

// =============================================================================
// Capacity Tests
// =============================================================================

func TestPoolCreate_TenantCeiling(t *testing.T) {
	t.Run("quota 2 with 3 concurrent creates admits exactly 2", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{TenantCeiling: 2})

		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = pool.Create(context.Background(), "tenant-a", Config{Template: "node"})
			}(i)
		}
		wg.Wait()

		var ok, limited int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrResourceLimitExceeded):
				limited++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 2, ok)
		assert.Equal(t, 1, limited)
		assert.Equal(t, 2, pool.TenantLiveCount("tenant-a"))
	})

	t.Run("ceilings are per tenant", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{TenantCeiling: 1})

		_, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)
		_, err = pool.Create(context.Background(), "tenant-b", Config{})
		require.NoError(t, err)
		_, err = pool.Create(context.Background(), "tenant-a", Config{})
		require.ErrorIs(t, err, ErrResourceLimitExceeded)
	})

	t.Run("release frees the slot", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{TenantCeiling: 1})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)
		require.NoError(t, pool.Release(context.Background(), h))

		_, err = pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)
	})

	t.Run("provision failure frees the slot", func(t *testing.T) {
		provider := newFakeProvider()
		provider.provisionErr = errors.New("provider down")
		pool, _ := newTestPool(t, provider, PoolConfig{TenantCeiling: 1})

		_, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.Error(t, err)
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))
	})
}

// =============================================================================
// Execution Tests
// =============================================================================

func TestPoolExecute(t *testing.T) {
	t.Run("executes and returns to ready", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		result, err := pool.Execute(context.Background(), h, "print('hi')", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Stdout)
		assert.Equal(t, 0, result.ExitCode)

		info, err := pool.Info(h)
		require.NoError(t, err)
		assert.Equal(t, StateReady, info.State)

		// Repeated Execute loops through ready → executing → ready.
		_, err = pool.Execute(context.Background(), h, "print('again')", time.Minute)
		require.NoError(t, err)
	})

	t.Run("timeout moves the sandbox to error", func(t *testing.T) {
		provider := newFakeProvider()
		provider.runFn = func(ctx context.Context, providerRef, code string) (RunResult, error) {
			<-ctx.Done()
			return RunResult{}, ctx.Err()
		}
		pool, _ := newTestPool(t, provider, PoolConfig{})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		_, err = pool.Execute(context.Background(), h, "while True: pass", 20*time.Millisecond)
		require.ErrorIs(t, err, ErrExecutionTimeout)

		info, err := pool.Info(h)
		require.NoError(t, err)
		assert.Equal(t, StateError, info.State)
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))

		// The error state is terminal; further calls see a dead sandbox.
		_, err = pool.Execute(context.Background(), h, "print('x')", time.Minute)
		require.ErrorIs(t, err, ErrSandboxNotFound)
	})

	t.Run("unknown handle", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{})

		_, err := pool.Execute(context.Background(), Handle{ID: "nope", TenantID: "tenant-a"}, "x", time.Minute)
		require.ErrorIs(t, err, ErrSandboxNotFound)
	})

	t.Run("handle from another tenant is invisible", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		stolen := Handle{ID: h.ID, TenantID: "tenant-b"}
		_, err = pool.Execute(context.Background(), stolen, "x", time.Minute)
		require.ErrorIs(t, err, ErrSandboxNotFound)
	})

	t.Run("concurrent execute on one sandbox is rejected", func(t *testing.T) {
		provider := newFakeProvider()
		release := make(chan struct{})
		provider.runFn = func(ctx context.Context, providerRef, code string) (RunResult, error) {
			<-release
			return RunResult{ExitCode: 0}, nil
		}
		pool, _ := newTestPool(t, provider, PoolConfig{})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := pool.Execute(context.Background(), h, "slow", time.Minute)
			done <- err
		}()

		// Wait until the first call holds the executing state.
		require.Eventually(t, func() bool {
			info, err := pool.Info(h)
			return err == nil && info.State == StateExecuting
		}, time.Second, 5*time.Millisecond)

		_, err = pool.Execute(context.Background(), h, "second", time.Minute)
		require.ErrorIs(t, err, ErrSandboxBusy)

		close(release)
		require.NoError(t, <-done)
	})
}

// =============================================================================
// Release and Reap Tests
// =============================================================================

func TestPoolRelease_Idempotent(t *testing.T) {
	provider := newFakeProvider()
	pool, _ := newTestPool(t, provider, PoolConfig{TenantCeiling: 3})

	h, err := pool.Create(context.Background(), "tenant-a", Config{})
	require.NoError(t, err)

	require.NoError(t, pool.Release(context.Background(), h))
	require.NoError(t, pool.Release(context.Background(), h))
	require.NoError(t, pool.Release(context.Background(), h))

	assert.Equal(t, int32(1), provider.teardowns.Load())
	assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))
}

func TestPoolReapExpired(t *testing.T) {
	t.Run("reaps past-deadline sandboxes", func(t *testing.T) {
		provider := newFakeProvider()
		pool, clock := newTestPool(t, provider, PoolConfig{DefaultTimeout: 10 * time.Minute})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		clock.Advance(11 * time.Minute)
		result := pool.ReapExpired(context.Background())
		assert.Equal(t, 1, result.Expired)
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))

		info, err := pool.Info(h)
		require.NoError(t, err)
		assert.Equal(t, StateExpired, info.State)
	})

	t.Run("reaps idle sandboxes before their deadline", func(t *testing.T) {
		provider := newFakeProvider()
		pool, clock := newTestPool(t, provider, PoolConfig{
			DefaultTimeout: time.Hour,
			IdleTimeout:    5 * time.Minute,
		})

		_, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		clock.Advance(6 * time.Minute)
		result := pool.ReapExpired(context.Background())
		assert.Equal(t, 1, result.Idle)
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))
	})

	t.Run("execute resets the idle timer", func(t *testing.T) {
		provider := newFakeProvider()
		pool, clock := newTestPool(t, provider, PoolConfig{
			DefaultTimeout: time.Hour,
			IdleTimeout:    5 * time.Minute,
		})

		h, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		_, err = pool.Execute(context.Background(), h, "x", time.Minute)
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		result := pool.ReapExpired(context.Background())
		assert.Equal(t, 0, result.Idle)
		assert.Equal(t, 1, pool.TenantLiveCount("tenant-a"))
	})

	t.Run("reclaims provisioning sandboxes past their deadline", func(t *testing.T) {
		provider := newFakeProvider()
		provider.provisionGate = make(chan struct{})
		provider.provisionStarted = make(chan struct{}, 1)
		pool, clock := newTestPool(t, provider, PoolConfig{
			DefaultTimeout: 10 * time.Minute,
			TenantCeiling:  1,
		})

		done := make(chan error, 1)
		go func() {
			_, err := pool.Create(context.Background(), "tenant-a", Config{})
			done <- err
		}()
		<-provider.provisionStarted

		// The hung provision must not hold the tenant's slot forever.
		clock.Advance(11 * time.Minute)
		result := pool.ReapExpired(context.Background())
		assert.Equal(t, 1, result.Expired)
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))

		// When the provider finally returns, Create notices the record
		// was reclaimed, tears the late resource down, and fails.
		close(provider.provisionGate)
		err := <-done
		require.ErrorIs(t, err, ErrSandboxNotFound)
		assert.Equal(t, int32(1), provider.teardowns.Load())
		assert.Equal(t, 0, pool.TenantLiveCount("tenant-a"))

		// The freed slot is usable again.
		_, err = pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)
	})

	t.Run("fresh sandboxes are untouched", func(t *testing.T) {
		provider := newFakeProvider()
		pool, _ := newTestPool(t, provider, PoolConfig{})

		_, err := pool.Create(context.Background(), "tenant-a", Config{})
		require.NoError(t, err)

		result := pool.ReapExpired(context.Background())
		assert.Equal(t, 0, result.Expired+result.Idle)
		assert.Equal(t, 1, pool.TenantLiveCount("tenant-a"))
	})
}

func TestPoolPreviewLink(t *testing.T) {
	provider := newFakeProvider()
	pool, _ := newTestPool(t, provider, PoolConfig{})

	h, err := pool.Create(context.Background(), "tenant-a", Config{})
	require.NoError(t, err)

	link, err := pool.PreviewLink(context.Background(), h, 3000)
	require.NoError(t, err)
	assert.Equal(t, 3000, link.Port)
	assert.NotEmpty(t, link.URL)
	assert.NotEmpty(t, link.Token)

	require.NoError(t, pool.Release(context.Background(), h))
	_, err = pool.PreviewLink(context.Background(), h, 3000)
	require.ErrorIs(t, err, ErrSandboxNotFound)
}
