package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FinalizeReason records why an instance was finalized
type FinalizeReason string

const (
	FinalizedCorrect   FinalizeReason = "correct"
	FinalizedExhausted FinalizeReason = "exhausted"
)

// Instance is one issued exercise awaiting or having received attempts.
// FinalizedAt is set at most once and never cleared.
type Instance struct {
	ID              string          `json:"id"`
	TopicSlug       string          `json:"topic_slug"`
	Archetype       string          `json:"archetype"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Expected        json.RawMessage `json:"-"`
	Provenance      Provenance      `json:"provenance"`
	ActorRef        string          `json:"actor_ref"`
	SessionRef      *string         `json:"session_ref,omitempty"`
	AllowReveal     bool            `json:"allow_reveal"`
	FinalizedAt     *time.Time      `json:"finalized_at,omitempty"`
	FinalizedReason FinalizeReason  `json:"finalized_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewInstance creates an open instance from a generated exercise
func NewInstance(id string, topicSlug string, ex *Exercise, actorRef string, sessionRef *string, allowReveal bool) *Instance {
	if id == "" {
		id = uuid.New().String()
	}
	return &Instance{
		ID:          id,
		TopicSlug:   topicSlug,
		Archetype:   ex.Archetype,
		Kind:        ex.Kind,
		Payload:     ex.Payload,
		Expected:    ex.Expected,
		Provenance:  ex.Provenance,
		ActorRef:    actorRef,
		SessionRef:  sessionRef,
		AllowReveal: allowReveal,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsFinalized reports whether the instance reached a terminal state
func (i *Instance) IsFinalized() bool {
	return i.FinalizedAt != nil
}

// Attempt is one recorded validation request. Attempts are append-only.
type Attempt struct {
	ID         string          `json:"id"`
	InstanceID string          `json:"instance_id"`
	ActorRef   string          `json:"actor_ref"`
	IsReveal   bool            `json:"is_reveal"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OK         *bool           `json:"ok"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewAttempt creates an attempt row ready to be appended
func NewAttempt(instanceID, actorRef string, isReveal bool, payload json.RawMessage, ok *bool) *Attempt {
	return &Attempt{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		ActorRef:   actorRef,
		IsReveal:   isReveal,
		Payload:    payload,
		OK:         ok,
		CreatedAt:  time.Now().UTC(),
	}
}

// Session groups instances issued to one owner, optionally under an assignment
type Session struct {
	ID           string     `json:"id"`
	OwnerRef     string     `json:"owner_ref"`
	AssignmentID *string    `json:"assignment_id,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewSession creates a session for an owner
func NewSession(ownerRef string, assignmentID *string) *Session {
	return &Session{
		ID:           uuid.New().String(),
		OwnerRef:     ownerRef,
		AssignmentID: assignmentID,
		CreatedAt:    time.Now().UTC(),
	}
}

// Assignment carries the grading policy an instructor attached to a set of sessions
type Assignment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	AllowReveal bool      `json:"allow_reveal"`
	MaxAttempts *int      `json:"max_attempts,omitempty"`
	ShowDebug   bool      `json:"show_debug"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAssignment creates an assignment policy
func NewAssignment(title string, allowReveal bool, maxAttempts *int, showDebug bool) *Assignment {
	return &Assignment{
		ID:          uuid.New().String(),
		Title:       title,
		AllowReveal: allowReveal,
		MaxAttempts: maxAttempts,
		ShowDebug:   showDebug,
		CreatedAt:   time.Now().UTC(),
	}
}

// Actor identifies who is generating or answering. Exactly one of UserRef
// and GuestRef is set.
type Actor struct {
	UserRef  string `json:"user_ref,omitempty"`
	GuestRef string `json:"guest_ref,omitempty"`
}

// Ref returns the stable reference used for ownership checks and seeding
func (a Actor) Ref() string {
	if a.UserRef != "" {
		return "user:" + a.UserRef
	}
	if a.GuestRef != "" {
		return "guest:" + a.GuestRef
	}
	return ""
}

// IsZero reports whether no identity is set
func (a Actor) IsZero() bool {
	return a.UserRef == "" && a.GuestRef == ""
}
