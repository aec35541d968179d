package topics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/rng"
)

func TestDefinitions_BuildRegistry(t *testing.T) {
	reg, err := exercise.BuildRegistry(Definitions())
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}
	if got := reg.Stats().TopicCount; got != 3 {
		t.Errorf("TopicCount = %d, want 3", got)
	}
}

func TestHandlers_ProduceGradableExercises(t *testing.T) {
	for _, def := range Definitions() {
		for key, h := range def.Handlers {
			t.Run(def.Slug+"/"+key, func(t *testing.T) {
				for _, d := range []domain.Difficulty{domain.DifficultyBeginner, domain.DifficultyAdvanced} {
					in := exercise.HandlerInput{
						RNG:          rng.New(rng.Seed{ActorRef: "guest:t", Salt: key + string(d)}),
						Difficulty:   d,
						TopicSlugRaw: def.Slug,
					}
					ex, err := h(in)
					if err != nil {
						t.Fatalf("handler error = %v", err)
					}
					if !ex.Kind.Valid() {
						t.Errorf("Kind = %q, want a known kind", ex.Kind)
					}
					if ex.Archetype != key {
						t.Errorf("Archetype = %q, want %q", ex.Archetype, key)
					}

					var exp domain.Expected
					if err := json.Unmarshal(ex.Expected, &exp); err != nil {
						t.Fatalf("unmarshal expected: %v", err)
					}
					checkExpected(t, ex, exp)
				}
			})
		}
	}
}

func checkExpected(t *testing.T, ex *domain.Exercise, exp domain.Expected) {
	t.Helper()

	var payload choicePayload
	_ = json.Unmarshal(ex.Payload, &payload)

	switch ex.Kind {
	case domain.KindSingleChoice:
		if exp.Choice == nil || *exp.Choice < 0 || *exp.Choice >= len(payload.Choices) {
			t.Errorf("Choice = %v out of %d choices", exp.Choice, len(payload.Choices))
		}
		seen := map[string]bool{}
		for _, c := range payload.Choices {
			if seen[c] {
				t.Errorf("duplicate choice %q", c)
			}
			seen[c] = true
		}
	case domain.KindMultiChoice:
		if len(exp.Choices) == 0 {
			t.Error("Choices is empty")
		}
	case domain.KindNumeric:
		if exp.Value == nil {
			t.Error("Value is nil")
		}
	case domain.KindText:
		if exp.Text == "" {
			t.Error("Text is empty")
		}
	}
	if exp.Explanation == "" {
		t.Error("Explanation is empty")
	}
}

func TestArith_AddIsCorrect(t *testing.T) {
	h := Arith().Handlers["add"]
	ex, err := h(exercise.HandlerInput{RNG: rng.New(rng.Seed{ActorRef: "user:1"})})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	var exp domain.Expected
	if err := json.Unmarshal(ex.Expected, &exp); err != nil {
		t.Fatalf("unmarshal expected: %v", err)
	}

	// Replay the same draws to recover the operands.
	g := rng.New(rng.Seed{ActorRef: "user:1"})
	a, b := g.IntRange(1, 10), g.IntRange(1, 10)
	if *exp.Value != float64(a+b) {
		t.Errorf("Value = %v, want %d", *exp.Value, a+b)
	}
}

func TestGenerate_BuiltinTopicsDeterministic(t *testing.T) {
	reg, err := exercise.BuildRegistry(Definitions())
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}
	gen := exercise.NewGenerator(reg, true)

	for _, slug := range []string{"m1.arith", "m2.matmul", "units"} {
		tc := exercise.TopicContext{
			TopicSlug: slug,
			Actor:     domain.Actor{UserRef: "learner"},
		}
		a, err := gen.Generate(context.Background(), tc)
		if err != nil {
			t.Fatalf("Generate(%s) error = %v", slug, err)
		}
		b, err := gen.Generate(context.Background(), tc)
		if err != nil {
			t.Fatalf("Generate(%s) error = %v", slug, err)
		}
		if string(a.Exercise.Payload) != string(b.Exercise.Payload) {
			t.Errorf("Generate(%s) payloads differ", slug)
		}
	}
}
