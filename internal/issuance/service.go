// Package issuance turns generated exercises into persisted instances that
// can later be validated.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/policy"
	"github.com/google/uuid"
)

// InstanceWriter persists new instances
type InstanceWriter interface {
	CreateInstance(ctx context.Context, inst *domain.Instance) error
}

// SessionReader loads the session an instance is issued into
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
}

// SessionHistory lists instances already issued in a session. When a store
// implements it, keys drawn earlier in the session are excluded.
type SessionHistory interface {
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Instance, error)
}

// PracticeHistory lists an actor's sessionless instances of one topic,
// newest first. When a store implements it, practice issues rotate through
// the pool instead of repeating the first draw.
type PracticeHistory interface {
	ListPractice(ctx context.Context, actorRef, topic string, limit int) ([]*domain.Instance, error)
}

// practiceWindow bounds how many earlier practice instances are excluded
const practiceWindow = 50

// Request is one issuance request
type Request struct {
	Topic            string              `json:"topic"`
	SessionID        string              `json:"session_id,omitempty"`
	Difficulty       domain.Difficulty   `json:"difficulty,omitempty"`
	PreferredKind    domain.Kind         `json:"kind,omitempty"`
	PreferredPurpose domain.Purpose      `json:"purpose,omitempty"`
	PinnedKey        string              `json:"pinned_key,omitempty"`
	ForceHint        string              `json:"force_hint,omitempty"`
	Salt             string              `json:"salt,omitempty"`
	Pool             []domain.PoolItem   `json:"pool,omitempty"`
	Exclusions       exercise.Exclusions `json:"exclusions,omitempty"`
	// AllowReveal is captured on the instance; assignments override it
	AllowReveal bool `json:"allow_reveal,omitempty"`
}

// PublicExercise is what the learner receives. It never carries the
// expected answer.
type PublicExercise struct {
	InstanceID  string            `json:"instance_id"`
	Topic       string            `json:"topic"`
	Archetype   string            `json:"archetype"`
	Kind        domain.Kind       `json:"kind"`
	Payload     json.RawMessage   `json:"payload"`
	Provenance  domain.Provenance `json:"provenance"`
	SessionID   *string           `json:"session_id,omitempty"`
	Mode        policy.RunMode    `json:"mode"`
	CanReveal   bool              `json:"can_reveal"`
	MaxAttempts *int              `json:"max_attempts,omitempty"`
	Repeated    bool              `json:"repeated,omitempty"`
}

// Service issues instances
type Service struct {
	generator *exercise.Generator
	instances InstanceWriter
	sessions  SessionReader
}

// NewService creates an issuance service
func NewService(gen *exercise.Generator, instances InstanceWriter, sessions SessionReader) *Service {
	return &Service{generator: gen, instances: instances, sessions: sessions}
}

// Issue generates an exercise for actor, stores it as an open instance and
// returns the public view
func (s *Service) Issue(ctx context.Context, actor domain.Actor, req Request) (*PublicExercise, error) {
	var session *domain.Session
	var assignment *domain.Assignment
	exclusions := req.Exclusions

	if req.SessionID != "" {
		var err error
		session, err = s.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if session.OwnerRef != actor.Ref() {
			return nil, fmt.Errorf("%w: session belongs to another actor", domain.ErrForbidden)
		}
		if session.CompletedAt != nil {
			return nil, fmt.Errorf("%w: session is already complete", domain.ErrConflict)
		}
		if session.AssignmentID != nil {
			assignment, err = s.sessions.GetAssignment(ctx, *session.AssignmentID)
			if err != nil {
				return nil, fmt.Errorf("load assignment: %w", err)
			}
		}
		seen, err := s.seenKeys(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		exclusions.Seen = append(exclusions.Seen, seen...)
	}

	salt := req.Salt
	if session == nil {
		prior, err := s.recentPractice(ctx, actor, req.Topic)
		if err != nil {
			return nil, err
		}
		for _, inst := range prior {
			exclusions.Seen = append(exclusions.Seen, inst.Provenance.Key)
		}
		if len(prior) > 0 {
			salt = practiceSalt(req.Salt, prior[0].ID)
		}
	}

	instanceID := uuid.New().String()
	tc := exercise.TopicContext{
		TopicSlug:        req.Topic,
		Actor:            actor,
		Salt:             salt,
		Difficulty:       req.Difficulty,
		InstanceID:       instanceID,
		PoolOverride:     req.Pool,
		PreferredKind:    req.PreferredKind,
		PreferredPurpose: req.PreferredPurpose,
		PinnedKey:        req.PinnedKey,
		ForceHint:        req.ForceHint,
		Exclusions:       exclusions,
	}
	if session != nil {
		tc.SessionRef = session.ID
	}

	res, err := s.generator.Generate(ctx, tc)
	if err != nil {
		return nil, err
	}
	if len(res.Exercise.Expected) == 0 {
		return nil, fmt.Errorf("topic %s key %s: %w", res.Slug.Raw, res.Exercise.Provenance.Key, domain.ErrMissingExpected)
	}

	var sessionRef *string
	if session != nil {
		sessionRef = &session.ID
	}
	inst := domain.NewInstance(instanceID, res.Slug.Raw, res.Exercise, actor.Ref(), sessionRef, req.AllowReveal)
	if err := s.instances.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("store instance: %w", err)
	}

	mode := policy.ModeOf(session)
	slog.Info("instance issued",
		"instance_id", inst.ID,
		"topic", inst.TopicSlug,
		"key", inst.Provenance.Key,
		"mode", mode,
		"repeated", res.Repeated,
	)

	return &PublicExercise{
		InstanceID:  inst.ID,
		Topic:       inst.TopicSlug,
		Archetype:   inst.Archetype,
		Kind:        inst.Kind,
		Payload:     inst.Payload,
		Provenance:  inst.Provenance,
		SessionID:   sessionRef,
		Mode:        mode,
		CanReveal:   policy.CanReveal(mode, assignment, inst.AllowReveal),
		MaxAttempts: policy.MaxAttempts(mode, assignment),
		Repeated:    res.Repeated,
	}, nil
}

func (s *Service) seenKeys(ctx context.Context, sessionID string) ([]string, error) {
	history, ok := s.instances.(SessionHistory)
	if !ok {
		return nil, nil
	}
	prior, err := history.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session instances: %w", err)
	}
	keys := make([]string, 0, len(prior))
	for _, inst := range prior {
		keys = append(keys, inst.Provenance.Key)
	}
	return keys, nil
}

// recentPractice returns the actor's latest sessionless instances of topic,
// newest first
func (s *Service) recentPractice(ctx context.Context, actor domain.Actor, topic string) ([]*domain.Instance, error) {
	history, ok := s.instances.(PracticeHistory)
	if !ok {
		return nil, nil
	}
	prior, err := history.ListPractice(ctx, actor.Ref(), exercise.ParseSlug(topic).Raw, practiceWindow)
	if err != nil {
		return nil, fmt.Errorf("list practice instances: %w", err)
	}
	return prior, nil
}

// practiceSalt chains the seed to the previous practice instance so every
// draw, including a repeated key, gets a fresh variant
func practiceSalt(base, previousID string) string {
	if base == "" {
		return "after-" + previousID
	}
	return base + "-after-" + previousID
}

// IsNotFound reports whether err means the referenced session or assignment is missing
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrAssignmentNotFound)
}
