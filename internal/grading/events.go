package grading

import (
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// EventType names a grading event
type EventType string

const (
	EventAttemptRecorded   EventType = "attempt.recorded"
	EventInstanceFinalized EventType = "instance.finalized"
)

// Event is published after an attempt or finalization is persisted
type Event struct {
	Type       EventType             `json:"type"`
	InstanceID string                `json:"instance_id"`
	TopicSlug  string                `json:"topic_slug"`
	Key        string                `json:"key"`
	ActorRef   string                `json:"actor_ref"`
	SessionRef *string               `json:"session_ref,omitempty"`
	AttemptID  string                `json:"attempt_id,omitempty"`
	IsReveal   bool                  `json:"is_reveal,omitempty"`
	OK         *bool                 `json:"ok,omitempty"`
	Reason     domain.FinalizeReason `json:"reason,omitempty"`
	At         time.Time             `json:"at"`
}

func newAttemptEvent(inst *domain.Instance, a *domain.Attempt) Event {
	return Event{
		Type:       EventAttemptRecorded,
		InstanceID: inst.ID,
		TopicSlug:  inst.TopicSlug,
		Key:        inst.Provenance.Key,
		ActorRef:   a.ActorRef,
		SessionRef: inst.SessionRef,
		AttemptID:  a.ID,
		IsReveal:   a.IsReveal,
		OK:         a.OK,
		At:         a.CreatedAt,
	}
}

func newFinalizedEvent(inst *domain.Instance, reason domain.FinalizeReason, at time.Time) Event {
	return Event{
		Type:       EventInstanceFinalized,
		InstanceID: inst.ID,
		TopicSlug:  inst.TopicSlug,
		Key:        inst.Provenance.Key,
		ActorRef:   inst.ActorRef,
		SessionRef: inst.SessionRef,
		Reason:     reason,
		At:         at,
	}
}
