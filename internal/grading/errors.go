package grading

import (
	"errors"
	"fmt"
	"net/http"
)

// Rejection codes
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeBadRequest        = "BAD_REQUEST"
	CodeForbidden         = "FORBIDDEN"
	CodeKindMismatch      = "KIND_MISMATCH"
	CodeRevealNotAllowed  = "REVEAL_NOT_ALLOWED"
	CodeAlreadyFinalized  = "ALREADY_FINALIZED"
	CodeAttemptsExhausted = "ATTEMPTS_EXHAUSTED"
	CodeGradingInProgress = "GRADING_IN_PROGRESS"
	CodeMissingExpected   = "MISSING_EXPECTED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ValidationError is a terminal rejection of one validation request. No
// attempt is recorded when it is returned.
type ValidationError struct {
	Status    int       `json:"-"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
	Decision  *Decision `json:"decision,omitempty"`
	cause     error
}

func (e *ValidationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func reject(status int, code, message string) *ValidationError {
	return &ValidationError{Status: status, Code: code, Message: message}
}

func internal(code, message string, cause error) *ValidationError {
	return &ValidationError{Status: http.StatusInternalServerError, Code: code, Message: message, cause: cause}
}

// AsValidationError returns the ValidationError carried by err, if any
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
