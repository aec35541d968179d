// Package policy computes attempt limits and reveal eligibility for an
// instance. Everything here is a pure function of its inputs.
package policy

import (
	"fmt"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// RunMode is how an instance was issued
type RunMode string

const (
	ModePractice   RunMode = "practice"
	ModeSession    RunMode = "session"
	ModeAssignment RunMode = "assignment"
)

// ModeOf derives the run mode from the instance's session link and the
// session's assignment link. A nil session means bare practice.
func ModeOf(session *domain.Session) RunMode {
	switch {
	case session == nil:
		return ModePractice
	case session.AssignmentID != nil:
		return ModeAssignment
	default:
		return ModeSession
	}
}

// CanReveal reports whether the canonical answer may be disclosed. In
// assignment mode the assignment decides; otherwise the flag captured at
// issuance applies.
func CanReveal(mode RunMode, assignment *domain.Assignment, issuedAllowReveal bool) bool {
	if mode == ModeAssignment {
		return assignment != nil && assignment.AllowReveal
	}
	return issuedAllowReveal
}

// MaxAttempts returns the attempt ceiling, or nil when attempts are unlimited
func MaxAttempts(mode RunMode, assignment *domain.Assignment) *int {
	if mode != ModeAssignment || assignment == nil || assignment.MaxAttempts == nil {
		return nil
	}
	ceiling := *assignment.MaxAttempts
	return &ceiling
}

// Exhausted reports whether recording one more non-reveal attempt reaches the ceiling
func Exhausted(priorNonReveal int, max *int) bool {
	return max != nil && priorNonReveal+1 >= *max
}

// FinalizeOnExhaust reports whether reaching the ceiling finalizes the instance.
// Practice only ever finalizes on a correct answer.
func FinalizeOnExhaust(mode RunMode) bool {
	return mode == ModeSession || mode == ModeAssignment
}

// Limits is the policy snapshot for one validation request
type Limits struct {
	Mode              RunMode
	CanReveal         bool
	MaxAttempts       *int
	FinalizeOnExhaust bool
	ShowDebug         bool
}

// For evaluates every policy for an instance in one pass
func For(inst *domain.Instance, session *domain.Session, assignment *domain.Assignment) Limits {
	mode := ModeOf(session)
	l := Limits{
		Mode:              mode,
		CanReveal:         CanReveal(mode, assignment, inst.AllowReveal),
		MaxAttempts:       MaxAttempts(mode, assignment),
		FinalizeOnExhaust: FinalizeOnExhaust(mode),
	}
	if mode == ModeAssignment && assignment != nil {
		l.ShowDebug = assignment.ShowDebug
	}
	return l
}

// AlreadyExhausted reports whether used non-reveal attempts already reached the ceiling
func (l Limits) AlreadyExhausted(used int) bool {
	return l.MaxAttempts != nil && used >= *l.MaxAttempts
}

// Attempts summarizes attempt usage. Max and Left are nil when unlimited.
type Attempts struct {
	Used int  `json:"used"`
	Max  *int `json:"max"`
	Left *int `json:"left"`
}

// Summarize builds the attempts summary for used non-reveal attempts
func Summarize(used int, max *int) Attempts {
	a := Attempts{Used: used, Max: max}
	if max != nil {
		left := *max - used
		if left < 0 {
			left = 0
		}
		a.Left = &left
	}
	return a
}

// String renders the summary as shown to learners
func (a Attempts) String() string {
	if a.Max == nil {
		return fmt.Sprintf("%d attempts used", a.Used)
	}
	return fmt.Sprintf("%d of %d attempts used, %d left", a.Used, *a.Max, *a.Left)
}
