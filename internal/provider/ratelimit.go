package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default rate limits per service (requests per second). The vision model is
// local and slow, so it gets a single slot; the ingestion endpoint tolerates
// a few batches per second.
var defaultRateLimits = map[Name]rate.Limit{
	NameOllama: 2,
	NameNuke:   5,
}

// RateLimiterMap holds one rate.Limiter per service, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Name]*rate.Limiter
}

// NewRateLimiterMap creates limiters for every service. overrides replaces
// the default requests-per-second for the named services; a value <= 0
// disables limiting for that service.
func NewRateLimiterMap(overrides map[Name]float64) *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Name]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 1)
	}
	for name, rps := range overrides {
		m.SetLimit(name, rps)
	}
	return m
}

// SetLimit changes the requests-per-second for a service at runtime.
func (m *RateLimiterMap) SetLimit(name Name, rps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rps <= 0 {
		delete(m.limiters, name)
		return
	}
	if l, ok := m.limiters[name]; ok {
		l.SetLimit(rate.Limit(rps))
		return
	}
	m.limiters[name] = rate.NewLimiter(rate.Limit(rps), 1)
}

// Wait blocks until the rate limiter for the given service allows a request,
// or the context is canceled. Services without a limiter never block.
func (m *RateLimiterMap) Wait(ctx context.Context, name Name) error {
	if m == nil {
		return ctx.Err()
	}
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}
