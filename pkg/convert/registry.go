package convert

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Registry dispatches conversions to adapters by type tag.
//
// A Registry is itself an Adapter. Tags are matched case-insensitively.
// Unknown tags go to the fallback adapter when one is set, otherwise they
// fail with unsupported-format.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
}

var _ Adapter = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register routes each of tags to a. Later registrations replace earlier ones.
func (r *Registry) Register(a Adapter, tags ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tag := range tags {
		tag = normalizeTag(tag)
		if tag == "" {
			continue
		}
		r.adapters[tag] = a
	}
	return r
}

// SetFallback sets the adapter used for unregistered tags.
func (r *Registry) SetFallback(a Adapter) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = a
	return r
}

// Lookup returns the adapter for typeTag.
func (r *Registry) Lookup(typeTag string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[normalizeTag(typeTag)]; ok {
		return a, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Supports reports whether typeTag has a registered (non-fallback) adapter.
func (r *Registry) Supports(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[normalizeTag(typeTag)]
	return ok
}

// SupportedFormats returns the registered tags in sorted order.
func (r *Registry) SupportedFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Convert dispatches to the adapter registered for typeTag.
func (r *Registry) Convert(ctx context.Context, sourcePath, typeTag string) (string, error) {
	a, ok := r.Lookup(typeTag)
	if !ok {
		return "", Unsupported(typeTag)
	}
	return a.Convert(ctx, sourcePath, normalizeTag(typeTag))
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "."))
}
