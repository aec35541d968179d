package topics

import (
	"fmt"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
)

// Arith is integer arithmetic with numeric answers
func Arith() exercise.Definition {
	return exercise.Definition{
		Slug:           "arith",
		DefaultPurpose: domain.PurposeQuiz,
		DefaultPool: []domain.PoolItem{
			{Key: "add", Weight: 2, Kind: domain.KindNumeric},
			{Key: "mul", Weight: 1, Kind: domain.KindNumeric},
		},
		Handlers: map[string]exercise.Handler{
			"add": binaryOp("add", "+", func(a, b int) int { return a + b }),
			"mul": binaryOp("mul", "×", func(a, b int) int { return a * b }),
		},
	}
}

func binaryOp(archetype, symbol string, apply func(a, b int) int) exercise.Handler {
	return func(in exercise.HandlerInput) (*domain.Exercise, error) {
		lo, hi := operandRange(in.Difficulty)
		a := in.RNG.IntRange(lo, hi)
		b := in.RNG.IntRange(lo, hi)
		result := float64(apply(a, b))

		return &domain.Exercise{
			Archetype: archetype,
			Kind:      domain.KindNumeric,
			Payload:   mustJSON(promptPayload{Prompt: fmt.Sprintf("What is %d %s %d?", a, symbol, b)}),
			Expected: domain.Expected{
				Value:       &result,
				Explanation: fmt.Sprintf("%d %s %d = %d", a, symbol, b, int(result)),
			}.Encode(),
		}, nil
	}
}
