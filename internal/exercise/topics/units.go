package topics

import (
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
)

// Units covers SI unit conversion and recognition
func Units() exercise.Definition {
	return exercise.Definition{
		Slug:           "units",
		DefaultPurpose: domain.PurposeQuiz,
		DefaultPool: []domain.PoolItem{
			{Key: "convert", Weight: 1, Kind: domain.KindText},
			{Key: "identify", Weight: 1, Kind: domain.KindMultiChoice},
		},
		Handlers: map[string]exercise.Handler{
			"convert":  convertUnits,
			"identify": identifyBaseUnits,
		},
	}
}

type conversion struct {
	from, to string
	factor   int
}

var conversions = []conversion{
	{"km", "m", 1000},
	{"m", "cm", 100},
	{"kg", "g", 1000},
	{"h", "min", 60},
}

func convertUnits(in exercise.HandlerInput) (*domain.Exercise, error) {
	c := conversions[in.RNG.IntRange(0, len(conversions)-1)]
	lo, hi := operandRange(in.Difficulty)
	qty := in.RNG.IntRange(lo, hi)
	result := strconv.Itoa(qty * c.factor)

	return &domain.Exercise{
		Archetype: "convert",
		Kind:      domain.KindText,
		Payload: mustJSON(promptPayload{
			Prompt: fmt.Sprintf("Convert %d %s to %s.", qty, c.from, c.to),
			Unit:   c.to,
		}),
		Expected: domain.Expected{
			Text:        result + " " + c.to,
			Accept:      []string{result, result + c.to},
			Explanation: fmt.Sprintf("1 %s = %d %s", c.from, c.factor, c.to),
		}.Encode(),
	}, nil
}

var (
	baseUnits  = []string{"metre", "kilogram", "second", "ampere", "kelvin", "mole", "candela"}
	otherUnits = []string{"litre", "newton", "joule", "watt", "hertz", "volt"}
)

func identifyBaseUnits(in exercise.HandlerInput) (*domain.Exercise, error) {
	type option struct {
		name string
		base bool
	}

	options := make([]option, 0, 5)
	for _, i := range pick(in, len(baseUnits), 2) {
		options = append(options, option{baseUnits[i], true})
	}
	for _, i := range pick(in, len(otherUnits), 3) {
		options = append(options, option{otherUnits[i], false})
	}
	in.RNG.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	names := make([]string, len(options))
	var answers []int
	for i, o := range options {
		names[i] = o.name
		if o.base {
			answers = append(answers, i)
		}
	}

	return &domain.Exercise{
		Archetype: "identify",
		Kind:      domain.KindMultiChoice,
		Payload: mustJSON(choicePayload{
			Prompt:  "Select every SI base unit.",
			Choices: names,
			Multi:   true,
		}),
		Expected: domain.Expected{
			Choices:     answers,
			Explanation: "The SI base units are metre, kilogram, second, ampere, kelvin, mole and candela",
		}.Encode(),
	}, nil
}

// pick returns k distinct indices in [0, n)
func pick(in exercise.HandlerInput, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	in.RNG.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx[:k]
}
