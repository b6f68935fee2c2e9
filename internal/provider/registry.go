// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackworks/agentmux/internal/types"
)

// Registry is the in-process provider directory. Providers are registered
// enabled and can be toggled at runtime.
type Registry struct {
	mu        sync.RWMutex
	providers map[types.ProviderID]Provider
	enabled   map[types.ProviderID]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[types.ProviderID]Provider),
		enabled:   make(map[types.ProviderID]bool),
	}
}

// Register adds a provider, enabled by default. Re-registering replaces the
// previous instance.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.ID()] = p
	r.enabled[p.ID()] = true
	r.mu.Unlock()
}

// Get returns the provider or an error when unknown.
func (r *Registry) Get(id types.ProviderID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", id)
	}
	return p, nil
}

// Lookup returns the provider, or nil when unknown.
func (r *Registry) Lookup(id types.ProviderID) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[id]
}

// All returns every registered provider in stable id order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(types.ProviderID) bool { return true })
}

// Enabled returns every enabled provider in stable id order.
func (r *Registry) Enabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(id types.ProviderID) bool { return r.enabled[id] })
}

func (r *Registry) sorted(keep func(types.ProviderID) bool) []Provider {
	ids := make([]types.ProviderID, 0, len(r.providers))
	for id := range r.providers {
		if keep(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.providers[id])
	}
	return out
}

// Enable marks a provider usable for routing.
func (r *Registry) Enable(id types.ProviderID) {
	r.mu.Lock()
	if _, ok := r.providers[id]; ok {
		r.enabled[id] = true
	}
	r.mu.Unlock()
}

// Disable removes a provider from routing without unregistering it.
func (r *Registry) Disable(id types.ProviderID) {
	r.mu.Lock()
	r.enabled[id] = false
	r.mu.Unlock()
}

// IsEnabled reports whether the provider is registered and enabled.
func (r *Registry) IsEnabled(id types.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// ProviderForModel returns the first enabled provider that supports the
// model, or nil.
func (r *Registry) ProviderForModel(modelID string) Provider {
	for _, p := range r.Enabled() {
		if p.SupportsModel(modelID) {
			return p
		}
	}
	return nil
}

// HealthCheckAll probes every enabled provider concurrently. A provider
// without a key in the map yields a synthetic unhealthy status.
func (r *Registry) HealthCheckAll(ctx context.Context, keys map[types.ProviderID]string) map[types.ProviderID]HealthStatus {
	providers := r.Enabled()

	var mu sync.Mutex
	results := make(map[types.ProviderID]HealthStatus, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		g.Go(func() error {
			var status HealthStatus
			key, ok := keys[p.ID()]
			if !ok || key == "" {
				status = HealthStatus{
					Provider:  p.ID(),
					Healthy:   false,
					Message:   "no API key configured",
					CheckedAt: time.Now().UTC(),
				}
			} else {
				status = p.HealthCheck(ctx, key)
			}
			mu.Lock()
			results[p.ID()] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
