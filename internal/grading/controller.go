// Package grading validates submissions against issued instances. Each
// request passes an ordered list of guards, is graded at most once, and
// records exactly one attempt. Finalization is monotonic.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/policy"
)

// InstanceStore reads issued instances
type InstanceStore interface {
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
}

// AttemptStore counts and appends attempts. RecordAttempt must insert the
// attempt and, when finalize is non-nil, set finalized_at in one transaction,
// returning domain.ErrAlreadyFinalized if the instance was already finalized.
type AttemptStore interface {
	CountNonReveal(ctx context.Context, instanceID string) (int, error)
	RecordAttempt(ctx context.Context, attempt *domain.Attempt, finalize *domain.FinalizeReason) error
}

// SessionStore reads session and assignment policy
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
}

// CompletionAggregator decides whether a session has no open instances left
type CompletionAggregator interface {
	CompleteSession(ctx context.Context, sessionID string) (bool, error)
}

// ActorResolver turns an issuance token into an actor
type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) (domain.Actor, error)
}

// EntitlementChecker confirms an actor may work on an assignment. Its errors
// are returned to the caller unmodified.
type EntitlementChecker interface {
	Check(ctx context.Context, actor domain.Actor, assignment *domain.Assignment) error
}

// Claimer grants at most one in-flight grading decision per instance.
// Acquire returns domain.ErrClaimHeld when another request holds the claim.
type Claimer interface {
	Acquire(ctx context.Context, instanceID string) (string, error)
	Release(ctx context.Context, instanceID, token string) error
}

// Publisher receives grading events after they are persisted
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Request is one validation request
type Request struct {
	InstanceID string
	ActorToken string
	Answer     *domain.Answer
	Reveal     bool
}

// Decision is the outcome returned to the learner
type Decision struct {
	OK              *bool           `json:"ok"`
	RevealUsed      bool            `json:"reveal_used"`
	RevealAnswer    json.RawMessage `json:"reveal_answer,omitempty"`
	Explanation     string          `json:"explanation,omitempty"`
	Finalized       bool            `json:"finalized"`
	Attempts        policy.Attempts `json:"attempts"`
	SessionComplete bool            `json:"session_complete"`
	Summary         string          `json:"summary"`
}

// Deps are the collaborators of a Controller. Entitlements, Completion,
// Claims and Events are optional.
type Deps struct {
	Instances    InstanceStore
	Attempts     AttemptStore
	Sessions     SessionStore
	Completion   CompletionAggregator
	Actors       ActorResolver
	Entitlements EntitlementChecker
	Grader       Grader
	Claims       Claimer
	Events       Publisher
}

// Controller runs validation requests
type Controller struct {
	deps Deps
}

// NewController creates a controller
func NewController(deps Deps) *Controller {
	if deps.Grader == nil {
		deps.Grader = NewKindGrader()
	}
	return &Controller{deps: deps}
}

// Validate runs one request through the guards and, if they all pass,
// grades it and records the attempt.
func (c *Controller) Validate(ctx context.Context, req Request) (*Decision, error) {
	actor, err := c.deps.Actors.ResolveActor(ctx, req.ActorToken)
	if err != nil {
		ve := reject(http.StatusUnauthorized, CodeUnauthorized, "invalid or missing actor token")
		ve.cause = err
		return nil, ve
	}
	if !req.Reveal && req.Answer == nil {
		return nil, reject(http.StatusBadRequest, CodeBadRequest, "answer is required unless revealing")
	}

	if c.deps.Claims != nil {
		token, err := c.deps.Claims.Acquire(ctx, req.InstanceID)
		if errors.Is(err, domain.ErrClaimHeld) {
			ve := reject(http.StatusConflict, CodeGradingInProgress, "instance is being graded, retry shortly")
			ve.Retryable = true
			return nil, ve
		}
		if err != nil {
			return nil, internal(CodeInternal, "failed to claim instance", err)
		}
		defer func() {
			// Release must run even if the request context was canceled.
			if err := c.deps.Claims.Release(context.WithoutCancel(ctx), req.InstanceID, token); err != nil {
				slog.Warn("failed to release grading claim", "instance_id", req.InstanceID, "error", err)
			}
		}()
	}

	return c.decide(ctx, actor, req)
}

func (c *Controller) decide(ctx context.Context, actor domain.Actor, req Request) (*Decision, error) {
	inst, err := c.deps.Instances.GetInstance(ctx, req.InstanceID)
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return nil, reject(http.StatusNotFound, CodeNotFound, "instance not found")
	}
	if err != nil {
		return nil, internal(CodeInternal, "failed to load instance", err)
	}

	session, assignment, err := c.loadPolicy(ctx, inst)
	if err != nil {
		return nil, err
	}
	limits := policy.For(inst, session, assignment)

	// 1. ownership
	owner := inst.ActorRef
	if session != nil {
		owner = session.OwnerRef
	}
	if owner != actor.Ref() {
		return nil, reject(http.StatusForbidden, CodeForbidden, "instance belongs to another actor")
	}

	// 2. answer shape
	if req.Answer != nil && req.Answer.Kind != inst.Kind {
		return nil, reject(http.StatusBadRequest, CodeKindMismatch,
			fmt.Sprintf("answer kind %q does not match instance kind %q", req.Answer.Kind, inst.Kind))
	}

	// 3. entitlement
	if limits.Mode == policy.ModeAssignment && c.deps.Entitlements != nil {
		if err := c.deps.Entitlements.Check(ctx, actor, assignment); err != nil {
			return nil, err
		}
	}

	// 4. reveal gating
	if req.Reveal && !limits.CanReveal {
		return nil, reject(http.StatusForbidden, CodeRevealNotAllowed, "reveal is not allowed for this instance")
	}

	used, err := c.deps.Attempts.CountNonReveal(ctx, inst.ID)
	if err != nil {
		return nil, internal(CodeInternal, "failed to count attempts", err)
	}
	attempts := policy.Summarize(used, limits.MaxAttempts)

	// 5. finalized
	if inst.IsFinalized() && !req.Reveal {
		ve := reject(http.StatusConflict, CodeAlreadyFinalized, "instance is already finalized")
		ve.Decision = &Decision{Finalized: true, Attempts: attempts, Summary: "Already finalized. " + attempts.String()}
		return nil, ve
	}

	// 6. exhausted
	if !req.Reveal && limits.AlreadyExhausted(used) {
		ve := reject(http.StatusConflict, CodeAttemptsExhausted, "no attempts left")
		ve.Decision = &Decision{Finalized: inst.IsFinalized(), Attempts: attempts, Summary: "No attempts left. " + attempts.String()}
		return nil, ve
	}

	// 7. grade
	if len(inst.Expected) == 0 {
		slog.Error("instance has no expected payload", "instance_id", inst.ID, "topic", inst.TopicSlug)
		return nil, internal(CodeMissingExpected, "instance cannot be graded", domain.ErrMissingExpected)
	}

	dec := &Decision{RevealUsed: req.Reveal}
	var payload json.RawMessage
	if req.Reveal {
		answer, explanation, err := c.deps.Grader.Reveal(inst.Kind, inst.Expected)
		if err != nil {
			return nil, gradeFailure(inst, err)
		}
		dec.RevealAnswer = answer
		dec.Explanation = explanation
		if req.Answer != nil {
			payload = req.Answer.Encode()
		}
	} else {
		out, err := c.deps.Grader.Grade(inst.Kind, inst.Expected, *req.Answer)
		if err != nil {
			return nil, gradeFailure(inst, err)
		}
		dec.OK = &out.OK
		if limits.ShowDebug {
			dec.Explanation = out.Explanation
		}
		payload = req.Answer.Encode()
	}

	// 8. record
	next := used
	if !req.Reveal {
		next++
	}
	var reason *domain.FinalizeReason
	if !req.Reveal {
		switch {
		case *dec.OK:
			r := domain.FinalizedCorrect
			reason = &r
		case limits.FinalizeOnExhaust && policy.Exhausted(used, limits.MaxAttempts):
			r := domain.FinalizedExhausted
			reason = &r
		}
	}

	attempt := domain.NewAttempt(inst.ID, actor.Ref(), req.Reveal, payload, dec.OK)
	err = c.deps.Attempts.RecordAttempt(ctx, attempt, reason)
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		ve := reject(http.StatusConflict, CodeAlreadyFinalized, "instance was finalized concurrently")
		ve.Decision = &Decision{Finalized: true, Attempts: attempts}
		return nil, ve
	}
	if err != nil {
		return nil, internal(CodeInternal, "failed to record attempt", err)
	}

	dec.Finalized = inst.IsFinalized() || reason != nil
	dec.Attempts = policy.Summarize(next, limits.MaxAttempts)

	if reason != nil && inst.SessionRef != nil && c.deps.Completion != nil {
		complete, err := c.deps.Completion.CompleteSession(ctx, *inst.SessionRef)
		if err != nil {
			slog.Warn("failed to aggregate session completion", "session_id", *inst.SessionRef, "error", err)
		}
		dec.SessionComplete = complete
	}
	dec.Summary = summarize(dec)

	slog.Info("attempt recorded",
		"instance_id", inst.ID,
		"mode", limits.Mode,
		"reveal", req.Reveal,
		"finalized", dec.Finalized,
		"attempts_used", next,
	)

	c.publish(ctx, inst, attempt, reason)

	return dec, nil
}

// loadPolicy fetches the session and assignment linked to inst, if any
func (c *Controller) loadPolicy(ctx context.Context, inst *domain.Instance) (*domain.Session, *domain.Assignment, error) {
	if inst.SessionRef == nil {
		return nil, nil, nil
	}

	session, err := c.deps.Sessions.GetSession(ctx, *inst.SessionRef)
	if err != nil {
		return nil, nil, internal(CodeInternal, "failed to load session", err)
	}
	if session.AssignmentID == nil {
		return session, nil, nil
	}

	assignment, err := c.deps.Sessions.GetAssignment(ctx, *session.AssignmentID)
	if err != nil {
		return nil, nil, internal(CodeInternal, "failed to load assignment", err)
	}
	return session, assignment, nil
}

func (c *Controller) publish(ctx context.Context, inst *domain.Instance, attempt *domain.Attempt, reason *domain.FinalizeReason) {
	if c.deps.Events == nil {
		return
	}

	events := []Event{newAttemptEvent(inst, attempt)}
	if reason != nil {
		events = append(events, newFinalizedEvent(inst, *reason, attempt.CreatedAt))
	}
	for _, e := range events {
		if err := c.deps.Events.Publish(ctx, e); err != nil {
			slog.Warn("failed to publish grading event", "type", e.Type, "instance_id", inst.ID, "error", err)
		}
	}
}

func gradeFailure(inst *domain.Instance, err error) *ValidationError {
	if errors.Is(err, domain.ErrMissingExpected) {
		slog.Error("instance expected payload is incomplete", "instance_id", inst.ID, "error", err)
		return internal(CodeMissingExpected, "instance cannot be graded", err)
	}
	return internal(CodeInternal, "grading failed", err)
}

func summarize(d *Decision) string {
	switch {
	case d.RevealUsed:
		return "Answer revealed."
	case d.OK != nil && *d.OK:
		return "Correct."
	case d.Finalized:
		return "Incorrect. No attempts left."
	default:
		return "Incorrect. " + d.Attempts.String()
	}
}
