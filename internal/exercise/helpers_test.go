package exercise

import (
	"encoding/json"
	"testing"

	"github.com/felixgeelhaar/drill/internal/domain"
)

func stubHandler(key string) Handler {
	return func(in HandlerInput) (*domain.Exercise, error) {
		n := in.RNG.IntRange(1, 100)
		payload, _ := json.Marshal(map[string]any{"key": key, "n": n})
		return &domain.Exercise{
			Archetype: key,
			Payload:   payload,
			Expected:  json.RawMessage(`{"value":1}`),
		}, nil
	}
}

func testDefinition(slug string, pool []domain.PoolItem, keys ...string) Definition {
	handlers := make(map[string]Handler, len(keys))
	for _, k := range keys {
		handlers[k] = stubHandler(k)
	}
	return Definition{
		Slug:           slug,
		DefaultPurpose: domain.PurposeQuiz,
		DefaultPool:    pool,
		Handlers:       handlers,
	}
}

func testRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	reg, err := BuildRegistry(defs)
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}
	return reg
}

func matmulDefinition() Definition {
	return testDefinition("matmul", []domain.PoolItem{
		{Key: "basic", Weight: 1},
		{Key: "advanced", Weight: 2},
	}, "basic", "advanced")
}

var guest = domain.Actor{GuestRef: "g-1"}
