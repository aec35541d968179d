// Package api holds the JSON error envelope shared by the HTTP daemon and
// the mapping from domain failures onto it.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/entitlement"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/grading"
)

// Envelope codes not owned by a service package
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
)

// APIError is the body of the {"error": ...} envelope
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Topic     string `json:"topic,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	cause     error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.cause }

// NewAPIError creates an envelope without a cause
func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithCause attaches the error that is logged but never serialized
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrUnauthorizedWith builds a 401 envelope
func ErrUnauthorizedWith(message string) *APIError {
	return NewAPIError(CodeUnauthorized, message)
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// sentinel maps a domain sentinel onto a status and code. An empty message
// echoes the wrapped error text.
type sentinel struct {
	target  error
	status  int
	code    string
	message string
}

// Checked in order; the first match wins.
var sentinels = []sentinel{
	{domain.ErrInstanceNotFound, http.StatusNotFound, CodeNotFound, "instance not found"},
	{domain.ErrSessionNotFound, http.StatusNotFound, CodeNotFound, "session not found"},
	{domain.ErrAssignmentNotFound, http.StatusNotFound, CodeNotFound, "assignment not found"},
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound, "resource not found"},
	{domain.ErrInvalidInput, http.StatusBadRequest, CodeBadRequest, ""},
	{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, ""},
	{domain.ErrForbidden, http.StatusForbidden, CodeForbidden, ""},
	{domain.ErrConflict, http.StatusConflict, CodeConflict, ""},
	{domain.ErrMissingExpected, http.StatusInternalServerError, "MISSING_EXPECTED", "exercise cannot be graded"},
}

// FromError maps a service error onto a status code and envelope.
// Grading rejections keep their code and any partial decision; entitlement
// failures pass through with the status the entitlement client chose.
func FromError(err error) (int, *APIError) {
	if ve, ok := grading.AsValidationError(err); ok {
		out := &APIError{Code: ve.Code, Message: ve.Message, Retryable: ve.Retryable, cause: ve.Unwrap()}
		if ve.Decision != nil {
			out.Details = ve.Decision
		}
		return ve.Status, out
	}

	var ee *entitlement.Error
	if errors.As(err, &ee) {
		return ee.Status, &APIError{Code: ee.Code, Message: ee.Message, Retryable: ee.Retryable, cause: ee.Unwrap()}
	}

	var ge *exercise.GenerationError
	if errors.As(err, &ge) {
		return generationStatus(ge.Code), &APIError{
			Code:    string(ge.Code),
			Message: ge.Error(),
			Topic:   ge.Topic,
			Details: ge.Details,
			cause:   ge.Unwrap(),
		}
	}

	for _, s := range sentinels {
		if !errors.Is(err, s.target) {
			continue
		}
		msg := s.message
		if msg == "" {
			msg = err.Error()
		}
		return s.status, NewAPIError(s.code, msg).WithCause(err)
	}
	return http.StatusInternalServerError, NewAPIError(CodeInternal, "internal error").WithCause(err)
}

func generationStatus(code exercise.ErrorCode) int {
	switch code {
	case exercise.CodeUnknownTopic:
		return http.StatusNotFound
	case exercise.CodeInvalidContext:
		return http.StatusBadRequest
	case exercise.CodeNoQuestions, exercise.CodeEmptyPool:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs apiErr and writes it as the error envelope stamped with
// the request's correlation ID. Retryable errors carry Retry-After.
func WriteError(w http.ResponseWriter, r *http.Request, status int, apiErr *APIError) {
	if apiErr.RequestID == "" {
		apiErr.RequestID = RequestID(r.Context())
	}
	if status >= http.StatusBadRequest {
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("code", apiErr.Code),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		}
		if apiErr.cause != nil {
			attrs = append(attrs, slog.String("cause", apiErr.cause.Error()))
		}
		if apiErr.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", apiErr.RequestID))
		}
		slog.LogAttrs(r.Context(), level, apiErr.Message, attrs...)
	}

	if apiErr.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, ErrorResponse{Error: apiErr})
}

// WriteErr maps err with FromError and writes it
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := FromError(err)
	WriteError(w, r, status, apiErr)
}

// WriteJSON writes data with the given status
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// BadRequest writes a 400 with message
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, NewAPIError(CodeBadRequest, message))
}

// NotFound writes a 404 for resource
func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, http.StatusNotFound, NewAPIError(CodeNotFound, resource+" not found"))
}
