package exercise

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/rng"
)

// HandlerInput is everything a topic handler may depend on. Handlers must be
// pure functions of their input apart from draws on RNG.
type HandlerInput struct {
	RNG          *rng.RNG
	Difficulty   domain.Difficulty
	InstanceID   string
	TopicSlugRaw string
}

// Handler synthesizes one exercise variant
type Handler func(in HandlerInput) (*domain.Exercise, error)

// Definition describes a topic before it is frozen into a Bundle
type Definition struct {
	Slug           string
	DefaultPurpose domain.Purpose
	DefaultPool    []domain.PoolItem
	Handlers       map[string]Handler
}

// Bundle is the immutable, startup-built description of one topic
type Bundle struct {
	slug           string
	defaultPurpose domain.Purpose
	defaultPool    []domain.PoolItem
	handlers       map[string]Handler
	keys           []string
}

// NewBundle freezes a definition. Pool items are validated and copied; the
// handler map is copied so later mutation of def has no effect.
func NewBundle(def Definition) (*Bundle, error) {
	if def.Slug == "" {
		return nil, fmt.Errorf("%w: topic slug is empty", domain.ErrInvalidInput)
	}
	if len(def.Handlers) == 0 {
		return nil, fmt.Errorf("%w: topic %s has no handlers", domain.ErrInvalidInput, def.Slug)
	}

	pool := make([]domain.PoolItem, 0, len(def.DefaultPool))
	for _, item := range def.DefaultPool {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("topic %s: %w", def.Slug, err)
		}
		pool = append(pool, item)
	}

	handlers := make(map[string]Handler, len(def.Handlers))
	keys := make([]string, 0, len(def.Handlers))
	for key, h := range def.Handlers {
		if h == nil {
			return nil, fmt.Errorf("%w: topic %s handler %q is nil", domain.ErrInvalidInput, def.Slug, key)
		}
		handlers[key] = h
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Bundle{
		slug:           def.Slug,
		defaultPurpose: domain.NormalizePurpose(string(def.DefaultPurpose), domain.PurposeQuiz),
		defaultPool:    pool,
		handlers:       handlers,
		keys:           keys,
	}, nil
}

// Slug returns the topic base slug
func (b *Bundle) Slug() string {
	return b.slug
}

// DefaultPurpose returns the purpose applied to items that declare none
func (b *Bundle) DefaultPurpose() domain.Purpose {
	return b.defaultPurpose
}

// DefaultPool returns a copy of the built-in pool
func (b *Bundle) DefaultPool() []domain.PoolItem {
	out := make([]domain.PoolItem, len(b.defaultPool))
	copy(out, b.defaultPool)
	return out
}

// Handler returns the handler registered for key
func (b *Bundle) Handler(key string) (Handler, bool) {
	h, ok := b.handlers[key]
	return h, ok
}

// HasKey reports whether key has a handler
func (b *Bundle) HasKey(key string) bool {
	_, ok := b.handlers[key]
	return ok
}

// Keys returns all handler keys in sorted order
func (b *Bundle) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// validItems keeps the items whose key has a handler
func (b *Bundle) validItems(items []domain.PoolItem) []domain.PoolItem {
	out := make([]domain.PoolItem, 0, len(items))
	for _, item := range items {
		if b.HasKey(item.Key) && item.Weight > 0 {
			out = append(out, item)
		}
	}
	return out
}

// syntheticPool is the uniform last-resort pool over every handler key
func (b *Bundle) syntheticPool() []domain.PoolItem {
	out := make([]domain.PoolItem, 0, len(b.keys))
	for _, key := range b.keys {
		out = append(out, domain.PoolItem{Key: key, Weight: 1, Purpose: string(b.defaultPurpose)})
	}
	return out
}
