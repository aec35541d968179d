// Package rng provides deterministic random draws derived from a composite seed.
//
// The same Seed and the same sequence of calls always produce the same values,
// in any process. Exercise selection and handlers rely on this so that two
// requests with the same seed converge on the same exercise.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrNonPositiveWeight is returned when weights do not sum to a positive number
var ErrNonPositiveWeight = errors.New("weights must sum to a positive number")

// ErrNonFiniteWeight is returned when a weight or the weight total is NaN or infinite
var ErrNonFiniteWeight = errors.New("weights must be finite")

// Seed identifies a deterministic stream. ActorRef is the user or guest
// reference, SessionRef may be empty, Salt separates independent streams.
type Seed struct {
	ActorRef   string
	SessionRef string
	Salt       string
}

// String renders the seed in its canonical hashed form
func (s Seed) String() string {
	return s.ActorRef + "|" + s.SessionRef + "|" + s.Salt
}

// RNG is a seeded generator. It is not safe for concurrent use.
type RNG struct {
	seed Seed
	r    *rand.Rand
}

// New creates a generator for seed
func New(seed Seed) *RNG {
	sum := sha256.Sum256([]byte(seed.String()))
	s1 := binary.BigEndian.Uint64(sum[0:8])
	s2 := binary.BigEndian.Uint64(sum[8:16])
	return &RNG{
		seed: seed,
		r:    rand.New(rand.NewPCG(s1, s2)),
	}
}

// Seed returns the seed the generator was built from
func (g *RNG) Seed() Seed {
	return g.seed
}

// IntRange returns a uniform integer in [lo, hi]
func (g *RNG) IntRange(lo, hi int) int {
	if lo > hi {
		panic(fmt.Sprintf("rng: IntRange lo %d > hi %d", lo, hi))
	}
	return lo + g.r.IntN(hi-lo+1)
}

// Float64 returns a uniform float in [0, 1)
func (g *RNG) Float64() float64 {
	return g.r.Float64()
}

// Shuffle permutes n elements using swap
func (g *RNG) Shuffle(n int, swap func(i, j int)) {
	g.r.Shuffle(n, swap)
}

// Choice is a weighted candidate for Weighted
type Choice[T any] struct {
	Value T
	W     float64
}

// Weighted draws one value with probability proportional to its weight.
// Negative weights count as zero.
func Weighted[T any](g *RNG, items []Choice[T]) (T, error) {
	var zero T

	total := 0.0
	for _, it := range items {
		if math.IsNaN(it.W) || math.IsInf(it.W, 0) {
			return zero, ErrNonFiniteWeight
		}
		if it.W > 0 {
			total += it.W
		}
	}
	if math.IsInf(total, 0) {
		return zero, ErrNonFiniteWeight
	}
	if total <= 0 {
		return zero, ErrNonPositiveWeight
	}

	target := g.r.Float64() * total
	cumulative := 0.0
	last := -1
	for i, it := range items {
		if it.W <= 0 {
			continue
		}
		cumulative += it.W
		last = i
		if target < cumulative {
			return it.Value, nil
		}
	}

	// Floating point rounding can leave target == total; the last positive item owns it.
	return items[last].Value, nil
}
