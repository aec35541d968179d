package topics

import (
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/rng"
)

// Matmul covers matrix products as single-choice questions
func Matmul() exercise.Definition {
	return exercise.Definition{
		Slug:           "matmul",
		DefaultPurpose: domain.PurposeQuiz,
		DefaultPool: []domain.PoolItem{
			{Key: "basic", Weight: 2, Kind: domain.KindSingleChoice},
			{Key: "advanced", Weight: 1, Kind: domain.KindSingleChoice},
			{Key: "transpose", Weight: 1, Kind: domain.KindSingleChoice},
		},
		Handlers: map[string]exercise.Handler{
			"basic":     productEntry("basic", 2),
			"advanced":  productEntry("advanced", 3),
			"transpose": transposeRule,
		},
	}
}

type matrix [][]int

func randomMatrix(g *rng.RNG, n int) matrix {
	m := make(matrix, n)
	for i := range m {
		m[i] = make([]int, n)
		for j := range m[i] {
			m[i][j] = g.IntRange(-5, 9)
		}
	}
	return m
}

func (m matrix) String() string {
	s := "["
	for i, row := range m {
		if i > 0 {
			s += "; "
		}
		for j, v := range row {
			if j > 0 {
				s += " "
			}
			s += strconv.Itoa(v)
		}
	}
	return s + "]"
}

func productEntry(archetype string, n int) exercise.Handler {
	return func(in exercise.HandlerInput) (*domain.Exercise, error) {
		a := randomMatrix(in.RNG, n)
		b := randomMatrix(in.RNG, n)
		row := in.RNG.IntRange(0, n-1)
		col := in.RNG.IntRange(0, n-1)

		entry := 0
		for k := 0; k < n; k++ {
			entry += a[row][k] * b[k][col]
		}

		prompt := fmt.Sprintf("A = %s, B = %s. What is entry (%d,%d) of AB?", a, b, row+1, col+1)
		explanation := fmt.Sprintf("Row %d of A dotted with column %d of B gives %d", row+1, col+1, entry)
		return singleChoice(in.RNG, archetype, prompt, strconv.Itoa(entry), distinctOffsets(in.RNG, entry, 3), explanation), nil
	}
}

func transposeRule(in exercise.HandlerInput) (*domain.Exercise, error) {
	return singleChoice(in.RNG, "transpose",
		"Which expression equals (AB)ᵀ?",
		"BᵀAᵀ",
		[]string{"AᵀBᵀ", "AB", "BA"},
		"Transposing a product reverses the order of the factors",
	), nil
}
