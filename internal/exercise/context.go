package exercise

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// Slug is a parsed topic slug of the form "prefix.base"
type Slug struct {
	Raw    string
	Base   string
	Prefix string
}

// ParseSlug splits raw on '.'; the last segment is the registry base and
// everything before it is the informational prefix.
func ParseSlug(raw string) Slug {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, ".")
	if idx < 0 {
		return Slug{Raw: raw, Base: raw}
	}
	return Slug{Raw: raw, Base: raw[idx+1:], Prefix: raw[:idx]}
}

// HistoryEntry is one past selection shown to the actor
type HistoryEntry struct {
	Key       string    `json:"key,omitempty"`
	Archetype string    `json:"archetype,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// Exclusions lists keys the actor should preferably not see again
type Exclusions struct {
	Excluded []string       `json:"excluded,omitempty"`
	Seen     []string       `json:"seen,omitempty"`
	Used     []string       `json:"used,omitempty"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// Keys returns the union of every exclusion source
func (e Exclusions) Keys() map[string]struct{} {
	out := make(map[string]struct{})
	add := func(k string) {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = struct{}{}
		}
	}
	for _, list := range [][]string{e.Excluded, e.Seen, e.Used} {
		for _, k := range list {
			add(k)
		}
	}
	for _, h := range e.History {
		add(h.Key)
		add(h.Archetype)
	}
	return out
}

// TopicContext is the full input of one generation request
type TopicContext struct {
	TopicSlug        string
	Actor            domain.Actor
	SessionRef       string
	Salt             string
	Difficulty       domain.Difficulty
	InstanceID       string
	PoolOverride     []domain.PoolItem
	PreferredKind    domain.Kind
	PreferredPurpose domain.Purpose
	PinnedKey        string
	ForceHint        string
	Exclusions       Exclusions
}

// Validate checks the context before any resolution work happens
func (c TopicContext) Validate() error {
	if strings.TrimSpace(c.TopicSlug) == "" {
		return fmt.Errorf("%w: topic slug is required", domain.ErrInvalidInput)
	}
	if c.Actor.IsZero() {
		return fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}
	if c.Actor.UserRef != "" && c.Actor.GuestRef != "" {
		return fmt.Errorf("%w: actor must be a user or a guest, not both", domain.ErrInvalidInput)
	}
	if c.PreferredKind != "" && !c.PreferredKind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, c.PreferredKind)
	}
	for _, item := range c.PoolOverride {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Slug returns the parsed topic slug
func (c TopicContext) Slug() Slug {
	return ParseSlug(c.TopicSlug)
}
