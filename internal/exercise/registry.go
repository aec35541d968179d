package exercise

import (
	"fmt"
	"sort"
)

// Registry maps topic base slugs to their bundles. It is built once at
// startup and never mutated afterwards, so lookups need no locking.
type Registry struct {
	bundles map[string]*Bundle
}

// NewRegistry builds a registry from bundles. Duplicate slugs are rejected.
func NewRegistry(bundles ...*Bundle) (*Registry, error) {
	r := &Registry{bundles: make(map[string]*Bundle, len(bundles))}
	for _, b := range bundles {
		if b == nil {
			continue
		}
		if _, exists := r.bundles[b.Slug()]; exists {
			return nil, fmt.Errorf("duplicate topic: %s", b.Slug())
		}
		r.bundles[b.Slug()] = b
	}
	return r, nil
}

// Lookup returns the bundle for a topic base slug
func (r *Registry) Lookup(base string) (*Bundle, bool) {
	b, ok := r.bundles[base]
	return b, ok
}

// List returns all bundles ordered by slug
func (r *Registry) List() []*Bundle {
	out := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug() < out[j].Slug() })
	return out
}

// Stats returns statistics about the registered topics
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{
		TopicCount: len(r.bundles),
		ByPurpose:  make(map[string]int),
	}
	for _, b := range r.bundles {
		stats.HandlerCount += len(b.keys)
		stats.ByPurpose[string(b.defaultPurpose)]++
	}
	return stats
}

// RegistryStats holds statistics about the registry
type RegistryStats struct {
	TopicCount   int
	HandlerCount int
	ByPurpose    map[string]int
}
