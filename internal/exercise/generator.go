package exercise

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/rng"
)

// Generator turns a topic context into a concrete exercise
type Generator struct {
	resolver *Resolver
}

// NewGenerator creates a generator over an immutable registry
func NewGenerator(registry *Registry, filterPurpose bool) *Generator {
	return &Generator{resolver: NewResolver(registry, filterPurpose)}
}

// Result is a generated exercise along with how it was chosen
type Result struct {
	Exercise *domain.Exercise
	Slug     Slug
	Forced   bool
	Repeated bool
	Seed     rng.Seed
}

// Generate resolves the pool, draws a key and runs the topic handler.
// Identical contexts always produce identical exercises.
func (g *Generator) Generate(ctx context.Context, tc TopicContext) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tc.Validate(); err != nil {
		ge := newGenerationError(CodeInvalidContext, tc.TopicSlug, nil)
		ge.cause = err
		return nil, ge
	}

	res, err := g.resolver.Resolve(tc)
	if err != nil {
		return nil, err
	}
	return g.fromResolution(tc, res)
}

// fromResolution draws a key from res.Pool and runs its handler. Resolved
// pools only carry keys with handlers; MISSING_HANDLER covers a Resolution
// built any other way.
func (g *Generator) fromResolution(tc TopicContext, res *Resolution) (*Result, error) {
	seed := SeedFor(tc)
	draw := rng.New(seed)
	sel := SelectKey(draw, res.Pool, tc.PinnedKey, tc.ForceHint)

	handler, ok := res.Bundle.Handler(sel.Item.Key)
	if !ok {
		return nil, newGenerationError(CodeMissingHandler, res.Slug.Raw, map[string]any{
			"key": sel.Item.Key,
		})
	}

	ex, err := handler(HandlerInput{
		RNG:          draw,
		Difficulty:   tc.Difficulty,
		InstanceID:   tc.InstanceID,
		TopicSlugRaw: res.Slug.Raw,
	})
	if err != nil {
		ge := newGenerationError(CodeHandlerFailed, res.Slug.Raw, map[string]any{"key": sel.Item.Key})
		ge.cause = err
		return nil, ge
	}
	if ex == nil {
		ge := newGenerationError(CodeHandlerFailed, res.Slug.Raw, map[string]any{"key": sel.Item.Key})
		ge.cause = fmt.Errorf("handler %q returned no exercise", sel.Item.Key)
		return nil, ge
	}

	ex.Provenance = domain.Provenance{
		Key:     sel.Item.Key,
		Purpose: domain.NormalizePurpose(sel.Item.Purpose, res.Bundle.DefaultPurpose()),
	}
	if sel.Item.Kind != "" && ex.Kind == "" {
		ex.Kind = sel.Item.Kind
	}

	if res.Repeated {
		slog.Debug("all candidates excluded, allowing a repeat",
			"topic", res.Slug.Raw,
			"key", sel.Item.Key,
		)
	}

	return &Result{
		Exercise: ex,
		Slug:     res.Slug,
		Forced:   sel.Forced,
		Repeated: res.Repeated,
		Seed:     seed,
	}, nil
}

// Topics lists the registered topic bundles
func (g *Generator) Topics() []*Bundle {
	return g.resolver.registry.List()
}

// Registry returns the registry the generator resolves against
func (g *Generator) Registry() *Registry {
	return g.resolver.registry
}

// SeedFor derives the RNG seed for a context. The raw topic slug is folded
// into the salt so different topics drawn by the same actor stay independent.
func SeedFor(tc TopicContext) rng.Seed {
	salt := tc.Slug().Raw
	if tc.Salt != "" {
		salt += "#" + tc.Salt
	}
	return rng.Seed{
		ActorRef:   tc.Actor.Ref(),
		SessionRef: tc.SessionRef,
		Salt:       salt,
	}
}
