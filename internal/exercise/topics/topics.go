// Package topics holds the built-in topic handlers. Content synthesis is kept
// small; these handlers exist so every answer kind has a working producer.
package topics

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/rng"
)

// Definitions returns every built-in topic
func Definitions() []exercise.Definition {
	return []exercise.Definition{
		Arith(),
		Matmul(),
		Units(),
	}
}

// operandRange maps a difficulty hint to an inclusive operand range
func operandRange(d domain.Difficulty) (int, int) {
	switch d {
	case domain.DifficultyAdvanced:
		return 10, 999
	case domain.DifficultyIntermediate:
		return 2, 50
	default:
		return 1, 10
	}
}

type choicePayload struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
	Multi   bool     `json:"multi,omitempty"`
}

type promptPayload struct {
	Prompt string `json:"prompt"`
	Unit   string `json:"unit,omitempty"`
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("topics: marshal payload: %v", err))
	}
	return data
}

// singleChoice shuffles correct among distractors and records its index
func singleChoice(g *rng.RNG, archetype, prompt, correct string, distractors []string, explanation string) *domain.Exercise {
	options := append([]string{correct}, distractors...)
	g.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	answer := 0
	for i, o := range options {
		if o == correct {
			answer = i
			break
		}
	}

	return &domain.Exercise{
		Archetype: archetype,
		Kind:      domain.KindSingleChoice,
		Payload:   mustJSON(choicePayload{Prompt: prompt, Choices: options}),
		Expected:  domain.Expected{Choice: &answer, Explanation: explanation}.Encode(),
	}
}

// distinctOffsets returns n distinct integer distractors near value
func distinctOffsets(g *rng.RNG, value, n int) []string {
	seen := map[int]bool{value: true}
	out := make([]string, 0, n)
	for len(out) < n {
		d := value + g.IntRange(-9, 9)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, strconv.Itoa(d))
	}
	return out
}
