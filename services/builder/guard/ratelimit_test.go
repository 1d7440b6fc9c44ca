// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limiterClock steps time manually for deterministic window/block tests.
type limiterClock struct {
	at time.Time
}

func (c *limiterClock) now() time.Time {
	return c.at
}

func newTestLimiter() (*RateLimiter, *limiterClock) {
	clock := &limiterClock{at: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(DefaultLimits())
	limiter.now = clock.now
	return limiter, clock
}

func TestRateLimiterWindowQuota(t *testing.T) {
	limiter, clock := newTestLimiter()

	first := limiter.Check("u-1")
	require.True(t, first.Allowed)
	assert.Equal(t, 10, first.RequestsRemaining)
	assert.Equal(t, clock.at.Add(time.Hour), first.ResetAt)

	for i := 0; i < 10; i++ {
		limiter.Record("u-1", true)
	}

	spent := limiter.Check("u-1")
	assert.False(t, spent.Allowed)
	assert.Equal(t, 0, spent.RequestsRemaining)
	assert.Nil(t, spent.BlockedUntil)

	// Quota is per user.
	assert.True(t, limiter.Check("u-2").Allowed)

	// The window rolls over and the quota returns.
	clock.at = clock.at.Add(time.Hour + time.Second)
	rolled := limiter.Check("u-1")
	assert.True(t, rolled.Allowed)
	assert.Equal(t, 10, rolled.RequestsRemaining)
}

func TestRateLimiterFailureStreakBlock(t *testing.T) {
	limiter, clock := newTestLimiter()

	limiter.Record("u-1", false)
	limiter.Record("u-1", false)
	assert.False(t, limiter.IsBlocked("u-1"), "two failures should not block")

	limiter.Record("u-1", false)
	require.True(t, limiter.IsBlocked("u-1"), "third consecutive failure should block")

	// A block rejects even with quota remaining.
	result := limiter.Check("u-1")
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RequestsRemaining, 0)
	require.NotNil(t, result.BlockedUntil)
	assert.True(t, result.BlockedUntil.After(clock.at))

	// The block expires.
	clock.at = clock.at.Add(11 * time.Minute)
	assert.False(t, limiter.IsBlocked("u-1"))
	assert.True(t, limiter.Check("u-1").Allowed)
}

func TestRateLimiterSuccessResetsStreak(t *testing.T) {
	limiter, _ := newTestLimiter()

	limiter.Record("u-1", false)
	limiter.Record("u-1", false)
	limiter.Record("u-1", true)
	limiter.Record("u-1", false)

	assert.False(t, limiter.IsBlocked("u-1"), "an intervening success resets the streak")
}

func TestRateLimiterClear(t *testing.T) {
	limiter, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		limiter.Record("u-1", false)
	}
	require.True(t, limiter.IsBlocked("u-1"))

	limiter.Clear("u-1")
	assert.False(t, limiter.IsBlocked("u-1"))
	assert.True(t, limiter.Check("u-1").Allowed)
	assert.Equal(t, 10, limiter.Check("u-1").RequestsRemaining)
}

func TestGuardQuotaDelegation(t *testing.T) {
	clock := &limiterClock{at: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	g := New(
		WithLimits(Limits{
			Capacity:         2,
			Window:           time.Minute,
			FailureThreshold: 3,
			BlockDuration:    time.Minute,
		}),
		WithGuardClock(clock.now),
	)

	g.RecordRequest("u-9", true)
	g.RecordRequest("u-9", true)
	assert.False(t, g.CheckRateLimit("u-9").Allowed)
	assert.False(t, g.IsUserBlocked("u-9"), "quota exhaustion is not a failure block")

	g.ClearRateLimitData("u-9")
	assert.True(t, g.CheckRateLimit("u-9").Allowed)
}
