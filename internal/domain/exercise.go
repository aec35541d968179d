package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Purpose classifies a pool item as quiz or project material
type Purpose string

const (
	PurposeQuiz    Purpose = "quiz"
	PurposeProject Purpose = "project"
)

// NormalizePurpose maps a raw purpose string onto a known Purpose.
// Unknown or empty values resolve to fallback; an empty fallback resolves to quiz.
func NormalizePurpose(raw string, fallback Purpose) Purpose {
	switch Purpose(strings.ToLower(strings.TrimSpace(raw))) {
	case PurposeQuiz:
		return PurposeQuiz
	case PurposeProject:
		return PurposeProject
	}
	if fallback == "" {
		return PurposeQuiz
	}
	return fallback
}

// Kind is the answer shape an exercise expects
type Kind string

const (
	KindSingleChoice Kind = "single_choice"
	KindMultiChoice  Kind = "multi_choice"
	KindNumeric      Kind = "numeric"
	KindText         Kind = "text"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindSingleChoice, KindMultiChoice, KindNumeric, KindText:
		return true
	default:
		return false
	}
}

// PoolItem is one weighted, selectable exercise variant of a topic
type PoolItem struct {
	Key     string  `json:"key" yaml:"key"`
	Weight  float64 `json:"weight" yaml:"weight"`
	Kind    Kind    `json:"kind,omitempty" yaml:"kind,omitempty"`
	Purpose string  `json:"purpose,omitempty" yaml:"purpose,omitempty"`
}

// Validate checks the item invariants (non-empty key, finite positive weight)
func (p PoolItem) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: pool item key is empty", ErrInvalidInput)
	}
	if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
		return fmt.Errorf("%w: pool item %q has non-finite weight %v", ErrInvalidInput, p.Key, p.Weight)
	}
	if p.Weight <= 0 {
		return fmt.Errorf("%w: pool item %q has non-positive weight %v", ErrInvalidInput, p.Key, p.Weight)
	}
	if p.Kind != "" && !p.Kind.Valid() {
		return fmt.Errorf("%w: pool item %q has unknown kind %q", ErrInvalidInput, p.Key, p.Kind)
	}
	return nil
}

// Provenance records which pool item produced an exercise
type Provenance struct {
	Key     string  `json:"key"`
	Purpose Purpose `json:"purpose"`
}

// Exercise is a generated exercise variant. Payload is what the learner sees,
// Expected is the canonical answer used for grading and is never sent to clients.
type Exercise struct {
	Archetype  string          `json:"archetype"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Expected   json.RawMessage `json:"-"`
	Provenance Provenance      `json:"provenance"`
}

// Difficulty is an opaque difficulty hint passed through to topic handlers
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)
