package provider

import "fmt"

// Router maps vendor names to backend implementations with O(1) lookup and a
// configurable fallback used when the requested vendor is not registered.
type Router[T any] struct {
	vendors  map[string]T
	fallback string
}

// NewRouter creates a router over the given vendors.
func NewRouter[T any](vendors map[string]T, fallback string) *Router[T] {
	return &Router[T]{vendors: vendors, fallback: fallback}
}

// Route returns the backend for the given vendor name, falling back to the default.
func (r *Router[T]) Route(vendor string) (T, error) {
	if backend, ok := r.vendors[vendor]; ok {
		return backend, nil
	}
	if backend, ok := r.vendors[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for vendor %q", vendor)
}

// Has reports whether a backend is registered under the given name.
func (r *Router[T]) Has(vendor string) bool {
	_, ok := r.vendors[vendor]
	return ok
}

// Vendors returns the names of all registered backends.
func (r *Router[T]) Vendors() []string {
	names := make([]string, 0, len(r.vendors))
	for k := range r.vendors {
		names = append(names, k)
	}
	return names
}
