package daemon

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/drill/internal/api"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"
)

const (
	CorrelationIDKey    = api.RequestIDKey
	CorrelationIDHeader = "X-Request-ID"
)

// GetCorrelationID returns the request ID stored by correlationIDMiddleware
func GetCorrelationID(ctx context.Context) string {
	return api.RequestID(ctx)
}

func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(api.WithRequestID(r.Context(), id)))
	})
}

// statusRecorder remembers the status and body size written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// loggingMiddleware logs HTTP requests with timing and status
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"correlation_id", GetCorrelationID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case rec.status >= 500:
			slog.Error("request", attrs...)
		case rec.status >= 400:
			slog.Warn("request", attrs...)
		default:
			slog.Debug("request", attrs...)
		}
	})
}

// recoveryMiddleware catches panics and answers with a 500 envelope
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"correlation_id", GetCorrelationID(r.Context()),
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				api.WriteError(w, r, http.StatusInternalServerError, api.NewAPIError("INTERNAL_ERROR", "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// actorResolver verifies bearer tokens
type actorResolver interface {
	ResolveActor(ctx context.Context, token string) (domain.Actor, error)
}

// callerKeys derives the rate limit bucket of a request. Only verified tokens
// get their own bucket; anything else shares the bucket of its client IP.
// Forwarding headers are honored only behind a trusted proxy.
type callerKeys struct {
	actors     actorResolver
	trustProxy bool
}

func (k callerKeys) key(r *http.Request) string {
	if token := bearerToken(r); token != "" && k.actors != nil {
		if actor, err := k.actors.ResolveActor(r.Context(), token); err == nil {
			return "actor:" + actor.Ref()
		}
	}
	return "ip:" + k.clientIP(r)
}

func (k callerKeys) clientIP(r *http.Request) string {
	if k.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware bounds requests per caller bucket
func rateLimitMiddleware(limiter ratelimit.RateLimiter, keys callerKeys, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow(r.Context(), keys.key(r)) {
			w.Header().Set("Retry-After", "1")
			api.WriteError(w, r, http.StatusTooManyRequests, api.NewAPIError("RATE_LIMITED", "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the token from the Authorization header, if any
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
