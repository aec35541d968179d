// Package entitlement checks whether an actor may work on an assignment by
// asking an external entitlement service over HTTP.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// Error codes returned to callers
const (
	CodeDenied      = "ENTITLEMENT_REQUIRED"
	CodeUnavailable = "ENTITLEMENT_UNAVAILABLE"
)

// Error is an entitlement failure. Callers pass it through unmodified.
type Error struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// statusError is a non-2xx response from the entitlement service
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("entitlement service returned status %d", e.status)
}

// Config configures the HTTP client
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxConcurrent caps in-flight requests to the service (default: 8)
	MaxConcurrent int
}

// Client is a resilient entitlement service client
type Client struct {
	baseURL        string
	http           *http.Client
	circuitBreaker circuitbreaker.CircuitBreaker[bool]
	retrier        retry.Retry[bool]
	bulkhead       bulkhead.Bulkhead[bool]
}

type checkResponse struct {
	Entitled bool   `json:"entitled"`
	Reason   string `json:"reason,omitempty"`
}

// NewClient creates a client with retry and circuit breaking
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: circuitbreaker.New[bool](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("entitlement circuit breaker state change",
					"from", from.String(),
					"to", to.String())
			},
		}),
		retrier: retry.New[bool](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		}),
		bulkhead: bulkhead.New[bool](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxQueue:      cfg.MaxConcurrent * 4,
			QueueTimeout:  cfg.Timeout,
		}),
	}
}

// Check asks the service whether actor is entitled to assignment
func (c *Client) Check(ctx context.Context, actor domain.Actor, assignment *domain.Assignment) error {
	if assignment == nil {
		return &Error{Status: http.StatusForbidden, Code: CodeDenied, Message: "assignment is required"}
	}

	entitled, err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) (bool, error) {
		return c.retrier.Do(ctx, func(ctx context.Context) (bool, error) {
			return c.bulkhead.Execute(ctx, func(ctx context.Context) (bool, error) {
				return c.fetch(ctx, actor, assignment.ID)
			})
		})
	})
	if err != nil {
		return &Error{
			Status:    http.StatusServiceUnavailable,
			Code:      CodeUnavailable,
			Message:   "entitlement service unavailable, retry later",
			Retryable: true,
			cause:     err,
		}
	}
	if !entitled {
		return &Error{Status: http.StatusForbidden, Code: CodeDenied, Message: "an active entitlement is required for this assignment"}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, actor domain.Actor, assignmentID string) (bool, error) {
	q := url.Values{}
	q.Set("actor", actor.Ref())
	q.Set("assignment", assignmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/entitlements?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("call entitlement service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusPaymentRequired:
		return false, nil
	default:
		return false, &statusError{status: resp.StatusCode}
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode entitlement response: %w", err)
	}
	return body.Entitled, nil
}

// isRetryable retries transport failures and transient HTTP statuses
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}

// AllowAll grants every entitlement. Used when no service is configured.
type AllowAll struct{}

// Check always succeeds
func (AllowAll) Check(context.Context, domain.Actor, *domain.Assignment) error {
	return nil
}
