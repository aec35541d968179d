package exercise

import (
	"log/slog"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// Resolution is the outcome of pool resolution for one context
type Resolution struct {
	Slug   Slug
	Bundle *Bundle
	// Pool is the final, non-empty candidate set
	Pool []domain.PoolItem
	// Filtered is the kind/purpose-filtered pool before exclusions
	Filtered []domain.PoolItem
	// Repeated is true when every candidate was excluded and the pool fell back
	// to Filtered, allowing a repeat instead of failing
	Repeated bool
}

// Resolver builds the weighted candidate set for a topic context
type Resolver struct {
	registry      *Registry
	filterPurpose bool
}

// NewResolver creates a resolver. When filterPurpose is set, items are kept
// only if their normalized purpose matches the requested (or topic default) purpose.
func NewResolver(registry *Registry, filterPurpose bool) *Resolver {
	return &Resolver{registry: registry, filterPurpose: filterPurpose}
}

// Resolve returns the final pool for tc or a *GenerationError
func (r *Resolver) Resolve(tc TopicContext) (*Resolution, error) {
	slug := tc.Slug()

	bundle, ok := r.registry.Lookup(slug.Base)
	if !ok {
		return nil, newGenerationError(CodeUnknownTopic, slug.Raw, map[string]any{
			"base": slug.Base,
		})
	}

	metaPool := bundle.validItems(tc.PoolOverride)
	fallbackPool := bundle.validItems(bundle.defaultPool)

	var basePool []domain.PoolItem
	switch {
	case len(metaPool) > 0:
		basePool = metaPool
	case len(fallbackPool) > 0:
		basePool = fallbackPool
	default:
		basePool = bundle.syntheticPool()
		slog.Warn("topic has no usable pool, using uniform pool over handlers",
			"topic", slug.Raw,
			"handlers", len(basePool),
		)
	}

	filtered := r.applyPreferences(basePool, bundle, tc)
	if len(filtered) == 0 && len(metaPool) > 0 && len(fallbackPool) > 0 {
		filtered = r.applyPreferences(fallbackPool, bundle, tc)
	}

	if len(filtered) == 0 {
		return nil, newGenerationError(CodeNoQuestions, slug.Raw, map[string]any{
			"kind":          string(tc.PreferredKind),
			"purpose":       string(r.preferredPurpose(bundle, tc)),
			"meta_size":     len(metaPool),
			"fallback_size": len(fallbackPool),
		})
	}

	excluded := tc.Exclusions.Keys()
	unique := make([]domain.PoolItem, 0, len(filtered))
	for _, item := range filtered {
		if _, skip := excluded[item.Key]; !skip {
			unique = append(unique, item)
		}
	}

	res := &Resolution{
		Slug:     slug,
		Bundle:   bundle,
		Filtered: filtered,
		Pool:     unique,
	}
	if len(unique) == 0 {
		// Exhausting every candidate through exclusions degrades to a repeat.
		res.Pool = filtered
		res.Repeated = true
	}
	if len(res.Pool) == 0 {
		return nil, newGenerationError(CodeEmptyPool, slug.Raw, nil)
	}

	return res, nil
}

// applyPreferences runs the kind filter and then the optional purpose filter
func (r *Resolver) applyPreferences(pool []domain.PoolItem, bundle *Bundle, tc TopicContext) []domain.PoolItem {
	out := make([]domain.PoolItem, 0, len(pool))
	for _, item := range pool {
		if tc.PreferredKind != "" && item.Kind != "" && item.Kind != tc.PreferredKind {
			continue
		}
		out = append(out, item)
	}

	if !r.filterPurpose {
		return out
	}

	want := r.preferredPurpose(bundle, tc)
	kept := out[:0]
	for _, item := range out {
		if domain.NormalizePurpose(item.Purpose, bundle.DefaultPurpose()) == want {
			kept = append(kept, item)
		}
	}
	return kept
}

func (r *Resolver) preferredPurpose(bundle *Bundle, tc TopicContext) domain.Purpose {
	return domain.NormalizePurpose(string(tc.PreferredPurpose), bundle.DefaultPurpose())
}
