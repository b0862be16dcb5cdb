package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures per-client limits
type RateLimiterConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	IdleTimeout       time.Duration
}

// RateLimiter applies a token bucket per client key
type RateLimiter struct {
	config  RateLimiterConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow checks if a request from the given client is allowed
func (r *RateLimiter) Allow(client string) bool {
	if !r.config.Enabled {
		return true
	}
	return r.get(client).AllowN(r.now(), 1)
}

// Tokens returns the tokens currently available to a client
func (r *RateLimiter) Tokens(client string) float64 {
	r.mu.Lock()
	c, ok := r.clients[client]
	r.mu.Unlock()
	if !ok {
		return float64(r.config.Burst)
	}
	return c.limiter.TokensAt(r.now())
}

// Clients returns the number of tracked clients
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *RateLimiter) get(client string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)}
		r.clients[client] = c
	}
	c.lastSeen = r.now()
	return c.limiter
}

// CleanupOldClients removes limiters idle for longer than the idle timeout
func (r *RateLimiter) CleanupOldClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.config.IdleTimeout)
	removed := 0
	for key, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine prunes idle clients every interval until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldClients()
			}
		}
	}()
}
