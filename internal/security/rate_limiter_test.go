package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg RateLimiterConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl, clock := newTestLimiter(RateLimiterConfig{Enabled: true, RequestsPerSecond: 2, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "clients are independent")

	clock.Advance(500 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	assert.Equal(t, 2, rl.Clients())
	assert.InDelta(t, 3.0, rl.Tokens("unknown"), 1e-9)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, _ := newTestLimiter(RateLimiterConfig{Enabled: false, RequestsPerSecond: 1, Burst: 1})
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("client"))
	}
	assert.Zero(t, rl.Clients())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter(RateLimiterConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute})

	rl.Allow("old")
	clock.Advance(45 * time.Second)
	rl.Allow("recent")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, rl.CleanupOldClients())
	assert.Equal(t, 1, rl.Clients())
	assert.Equal(t, 0, rl.CleanupOldClients())
}

func TestCleanupRoutineStops(t *testing.T) {
	rl, clock := newTestLimiter(RateLimiterConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Second})
	rl.Allow("client")
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartCleanupRoutine(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return rl.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
