package grading

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// memStore implements every store interface in memory
type memStore struct {
	mu          sync.Mutex
	instances   map[string]*domain.Instance
	attempts    []*domain.Attempt
	sessions    map[string]*domain.Session
	assignments map[string]*domain.Assignment
}

func newMemStore() *memStore {
	return &memStore{
		instances:   make(map[string]*domain.Instance),
		sessions:    make(map[string]*domain.Session),
		assignments: make(map[string]*domain.Assignment),
	}
}

func (m *memStore) GetInstance(_ context.Context, id string) (*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) CountNonReveal(_ context.Context, instanceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.InstanceID == instanceID && !a.IsReveal {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecordAttempt(_ context.Context, a *domain.Attempt, finalize *domain.FinalizeReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[a.InstanceID]
	if finalize != nil {
		if inst.FinalizedAt != nil {
			return domain.ErrAlreadyFinalized
		}
		now := time.Now().UTC()
		inst.FinalizedAt = &now
		inst.FinalizedReason = *finalize
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) GetAssignment(_ context.Context, id string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return a, nil
}

func (m *memStore) CompleteSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, inst := range m.instances {
		if inst.SessionRef == nil || *inst.SessionRef != sessionID {
			continue
		}
		total++
		if inst.FinalizedAt == nil {
			return false, nil
		}
	}
	return total > 0, nil
}

func (m *memStore) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// tokenActors maps raw tokens to actors
type tokenActors map[string]domain.Actor

func (t tokenActors) ResolveActor(_ context.Context, token string) (domain.Actor, error) {
	a, ok := t[token]
	if !ok {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	return a, nil
}

type stubEntitlements struct {
	err   error
	calls int
}

func (s *stubEntitlements) Check(context.Context, domain.Actor, *domain.Assignment) error {
	s.calls++
	return s.err
}

type heldClaims struct{}

func (heldClaims) Acquire(context.Context, string) (string, error) { return "", domain.ErrClaimHeld }
func (heldClaims) Release(context.Context, string, string) error   { return nil }

type countingClaims struct {
	acquired, released int
}

func (c *countingClaims) Acquire(context.Context, string) (string, error) {
	c.acquired++
	return "tok", nil
}

func (c *countingClaims) Release(_ context.Context, _ string, token string) error {
	if token != "tok" {
		return errors.New("wrong token")
	}
	c.released++
	return nil
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.events = append(p.events, e)
	return nil
}

// countingGrader wraps KindGrader and counts Grade calls
type countingGrader struct {
	*KindGrader
	grades int
}

func (g *countingGrader) Grade(kind domain.Kind, expected json.RawMessage, answer domain.Answer) (Outcome, error) {
	g.grades++
	return g.KindGrader.Grade(kind, expected, answer)
}
