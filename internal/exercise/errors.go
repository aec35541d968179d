package exercise

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable generation failure code
type ErrorCode string

const (
	CodeUnknownTopic   ErrorCode = "UNKNOWN_TOPIC"
	CodeNoQuestions    ErrorCode = "NO_QUESTIONS_AVAILABLE"
	CodeEmptyPool      ErrorCode = "EMPTY_POOL"
	CodeMissingHandler ErrorCode = "MISSING_HANDLER"
	CodeHandlerFailed  ErrorCode = "HANDLER_FAILED"
	CodeInvalidContext ErrorCode = "INVALID_CONTEXT"
)

// GenerationError is a terminal, non-retried generation failure
type GenerationError struct {
	Code    ErrorCode      `json:"code"`
	Topic   string         `json:"topic"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *GenerationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: topic %q: %v", e.Code, e.Topic, e.cause)
	}
	return fmt.Sprintf("%s: topic %q", e.Code, e.Topic)
}

func (e *GenerationError) Unwrap() error {
	return e.cause
}

func newGenerationError(code ErrorCode, topic string, details map[string]any) *GenerationError {
	return &GenerationError{Code: code, Topic: topic, Details: details}
}

// CodeOf returns the generation error code carried by err, if any
func CodeOf(err error) (ErrorCode, bool) {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	return "", false
}
