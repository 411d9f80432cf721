package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterMap holds one rate.Limiter per provider instance. Limits are
// registered at startup from provider configuration; instances without a
// limit pass through unthrottled. Multiple instances that share a remote
// endpoint can be registered against the same limiter.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterMap creates an empty limiter map.
func NewRateLimiterMap() *RateLimiterMap {
	return &RateLimiterMap{limiters: make(map[string]*rate.Limiter)}
}

// SetLimit installs (or replaces) the limiter for a provider instance.
func (m *RateLimiterMap) SetLimit(instance string, limit rate.Limit, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[instance] = rate.NewLimiter(limit, burst)
}

// Share registers an instance against another instance's limiter, for
// providers whose instances hit one shared remote endpoint.
func (m *RateLimiterMap) Share(instance, withInstance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[withInstance]; ok {
		m.limiters[instance] = l
	}
}

// Wait blocks until the limiter for the given instance allows a request,
// or the context is canceled. Instances without a limiter never block.
func (m *RateLimiterMap) Wait(ctx context.Context, instance string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[instance]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
