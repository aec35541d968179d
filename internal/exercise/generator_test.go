package exercise

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestGenerator_Deterministic(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)
	tc := TopicContext{
		TopicSlug:  "m2.matmul",
		Actor:      domain.Actor{UserRef: "u-42"},
		SessionRef: "s-1",
		Exclusions: Exclusions{Seen: []string{"nothing"}},
	}

	first, err := gen.Generate(context.Background(), tc)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := gen.Generate(context.Background(), tc)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if diff := cmp.Diff(first.Exercise, again.Exercise); diff != "" {
			t.Fatalf("Generate() mismatch (-first +again):\n%s", diff)
		}
	}
}

func TestGenerator_ExcludedBasicAlwaysAdvanced(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)

	for _, actor := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		res, err := gen.Generate(context.Background(), TopicContext{
			TopicSlug:  "m2.matmul",
			Actor:      domain.Actor{GuestRef: actor},
			Exclusions: Exclusions{Excluded: []string{"basic"}},
		})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if got := res.Exercise.Provenance.Key; got != "advanced" {
			t.Errorf("actor %s: Key = %q; want advanced", actor, got)
		}
	}
}

func TestGenerator_StampsProvenance(t *testing.T) {
	def := testDefinition("arith", []domain.PoolItem{
		{Key: "build", Weight: 1, Purpose: "PROJECT", Kind: domain.KindNumeric},
	}, "build")
	gen := NewGenerator(testRegistry(t, def), false)

	res, err := gen.Generate(context.Background(), TopicContext{TopicSlug: "arith", Actor: guest})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	ex := res.Exercise
	if ex.Provenance.Key != "build" {
		t.Errorf("Provenance.Key = %q; want build", ex.Provenance.Key)
	}
	if ex.Provenance.Purpose != domain.PurposeProject {
		t.Errorf("Provenance.Purpose = %q; want project", ex.Provenance.Purpose)
	}
	if ex.Kind != domain.KindNumeric {
		t.Errorf("Kind = %q; want numeric", ex.Kind)
	}
}

func TestGenerator_PinnedKey(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)

	res, err := gen.Generate(context.Background(), TopicContext{
		TopicSlug: "matmul",
		Actor:     guest,
		PinnedKey: "basic",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Exercise.Provenance.Key != "basic" || !res.Forced {
		t.Errorf("Generate() key = %q forced = %v; want basic forced", res.Exercise.Provenance.Key, res.Forced)
	}
}

func TestGenerator_HandlerFailure(t *testing.T) {
	def := Definition{
		Slug:        "broken",
		DefaultPool: []domain.PoolItem{{Key: "x", Weight: 1}},
		Handlers: map[string]Handler{
			"x": func(HandlerInput) (*domain.Exercise, error) { return nil, errors.New("boom") },
		},
	}
	gen := NewGenerator(testRegistry(t, def), false)

	_, err := gen.Generate(context.Background(), TopicContext{TopicSlug: "broken", Actor: guest})
	if code, _ := CodeOf(err); code != CodeHandlerFailed {
		t.Errorf("Generate() error = %v; want %s", err, CodeHandlerFailed)
	}
}

func TestGenerator_InvalidContext(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)

	tests := map[string]TopicContext{
		"no topic":    {Actor: guest},
		"no actor":    {TopicSlug: "matmul"},
		"both actors": {TopicSlug: "matmul", Actor: domain.Actor{UserRef: "u", GuestRef: "g"}},
		"bad kind":    {TopicSlug: "matmul", Actor: guest, PreferredKind: "essay"},
		"bad weight":  {TopicSlug: "matmul", Actor: guest, PoolOverride: []domain.PoolItem{{Key: "basic"}}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := gen.Generate(context.Background(), tc)
			if code, _ := CodeOf(err); code != CodeInvalidContext {
				t.Errorf("Generate() error = %v; want %s", err, CodeInvalidContext)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("errors.Is(err, ErrInvalidInput) = false")
			}
		})
	}
}

func TestGenerator_CanceledContext(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gen.Generate(ctx, TopicContext{TopicSlug: "matmul", Actor: guest}); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v; want context.Canceled", err)
	}
}

func TestSeedFor_TopicSeparatesStreams(t *testing.T) {
	a := SeedFor(TopicContext{TopicSlug: "m1.arith", Actor: guest})
	b := SeedFor(TopicContext{TopicSlug: "m2.arith", Actor: guest})
	if a == b {
		t.Errorf("SeedFor() = %v for both topics", a)
	}
	if a.ActorRef != "guest:g-1" {
		t.Errorf("ActorRef = %q; want guest:g-1", a.ActorRef)
	}
}

func TestGenerator_MissingHandler(t *testing.T) {
	gen := NewGenerator(testRegistry(t, matmulDefinition()), false)
	bundle, ok := gen.Registry().Lookup("matmul")
	if !ok {
		t.Fatal("matmul not registered")
	}

	res := &Resolution{
		Slug:   ParseSlug("m2.matmul"),
		Bundle: bundle,
		Pool:   []domain.PoolItem{{Key: "orphan", Weight: 1}},
	}
	_, err := gen.fromResolution(TopicContext{TopicSlug: "m2.matmul", Actor: guest}, res)

	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("fromResolution() error = %v, want *GenerationError", err)
	}
	if ge.Code != CodeMissingHandler {
		t.Errorf("Code = %s, want %s", ge.Code, CodeMissingHandler)
	}
	if ge.Details["key"] != "orphan" || ge.Topic != "m2.matmul" {
		t.Errorf("error = %+v", ge)
	}
}
