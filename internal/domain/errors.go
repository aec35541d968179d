package domain

import "errors"

// Stores and services return these wrapped; callers test with errors.Is.

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrAlreadyFinalized = errors.New("instance already finalized")
	ErrMissingExpected  = errors.New("instance has no canonical expected payload")
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
)

// ErrClaimHeld means another request owns the grading claim for an instance
var ErrClaimHeld = errors.New("instance is being graded by another request")

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
