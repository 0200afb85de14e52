// Package registry implements the small freezable, ordered, string-keyed
// maps used throughout the configuration composer (spec §3 "Registries":
// middleware registry, context-factory registry, endpoint-config-class
// registry, preset registry all share this shape).
package registry

import (
	"sync"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
)

// Registry is an insertion-ordered, string-keyed table that can be frozen
// to reject further registration once application wiring is complete.
type Registry[T any] struct {
	mu     sync.RWMutex
	order  []string
	items  map[string]T
	frozen bool
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds kind → item. Fails with a ConfigureError if kind is empty,
// already registered, or the registry is frozen.
func (r *Registry[T]) Register(kind string, item T) error {
	if kind == "" {
		return apierrors.Wrap(apierrors.Configure, "registry kind must be non-empty", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return apierrors.Wrapf(apierrors.Configure, nil, "registry frozen: cannot register kind %q", kind)
	}
	if _, exists := r.items[kind]; exists {
		return apierrors.Wrapf(apierrors.Configure, nil, "duplicate registry kind %q", kind)
	}
	r.order = append(r.order, kind)
	r.items[kind] = item
	return nil
}

// Lookup returns the item for kind, if registered.
func (r *Registry[T]) Lookup(kind string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[kind]
	return v, ok
}

// MustLookup returns the item for kind or a ConfigureError.
func (r *Registry[T]) MustLookup(kind string) (T, error) {
	v, ok := r.Lookup(kind)
	if !ok {
		var zero T
		return zero, apierrors.Wrapf(apierrors.Configure, nil, "unregistered kind %q", kind)
	}
	return v, nil
}

// Freeze prevents any further Register calls.
func (r *Registry[T]) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Kinds returns the registered kinds in registration order.
func (r *Registry[T]) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
