package grading

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// DefaultTolerance is the absolute tolerance for numeric answers without one
const DefaultTolerance = 1e-9

// Outcome is the grader's verdict on one answer
type Outcome struct {
	OK          bool
	Explanation string
}

// Grader compares answers against a canonical expected payload
type Grader interface {
	Grade(kind domain.Kind, expected json.RawMessage, answer domain.Answer) (Outcome, error)
	Reveal(kind domain.Kind, expected json.RawMessage) (json.RawMessage, string, error)
}

// KindGrader grades the built-in answer kinds
type KindGrader struct{}

// NewKindGrader creates a grader for every domain.Kind
func NewKindGrader() *KindGrader {
	return &KindGrader{}
}

// Grade compares answer with expected according to kind
func (g *KindGrader) Grade(kind domain.Kind, expected json.RawMessage, answer domain.Answer) (Outcome, error) {
	exp, err := decodeExpected(expected)
	if err != nil {
		return Outcome{}, err
	}

	var ok bool
	switch kind {
	case domain.KindSingleChoice:
		if exp.Choice == nil {
			return Outcome{}, fmt.Errorf("%w: single choice without choice", domain.ErrMissingExpected)
		}
		ok = answer.Choice != nil && *answer.Choice == *exp.Choice
	case domain.KindMultiChoice:
		ok = sameSet(exp.Choices, answer.Choices)
	case domain.KindNumeric:
		if exp.Value == nil {
			return Outcome{}, fmt.Errorf("%w: numeric without value", domain.ErrMissingExpected)
		}
		tol := exp.Tolerance
		if tol <= 0 {
			tol = DefaultTolerance
		}
		ok = answer.Value != nil && math.Abs(*answer.Value-*exp.Value) <= tol
	case domain.KindText:
		ok = matchText(answer.Text, exp.Text, exp.Accept)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, kind)
	}

	return Outcome{OK: ok, Explanation: exp.Explanation}, nil
}

// Reveal returns the canonical answer in submission form along with its explanation
func (g *KindGrader) Reveal(kind domain.Kind, expected json.RawMessage) (json.RawMessage, string, error) {
	exp, err := decodeExpected(expected)
	if err != nil {
		return nil, "", err
	}

	ans := domain.Answer{Kind: kind}
	switch kind {
	case domain.KindSingleChoice:
		ans.Choice = exp.Choice
	case domain.KindMultiChoice:
		ans.Choices = exp.Choices
	case domain.KindNumeric:
		ans.Value = exp.Value
	case domain.KindText:
		ans.Text = exp.Text
	default:
		return nil, "", fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, kind)
	}
	return ans.Encode(), exp.Explanation, nil
}

func decodeExpected(raw json.RawMessage) (domain.Expected, error) {
	var exp domain.Expected
	if len(raw) == 0 {
		return exp, domain.ErrMissingExpected
	}
	if err := json.Unmarshal(raw, &exp); err != nil {
		return exp, fmt.Errorf("decode expected: %w", err)
	}
	return exp, nil
}

func sameSet(want, got []int) bool {
	a := slices.Compact(slices.Sorted(slices.Values(want)))
	b := slices.Compact(slices.Sorted(slices.Values(got)))
	return slices.Equal(a, b)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func matchText(got, want string, accept []string) bool {
	g := normalizeText(got)
	if g == "" {
		return false
	}
	if g == normalizeText(want) {
		return true
	}
	for _, alt := range accept {
		if g == normalizeText(alt) {
			return true
		}
	}
	return false
}
