// Package claim provides per-instance grading claims. A claim is held by at
// most one request at a time and expires after its TTL so a crashed holder
// cannot block an instance forever.
package claim

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/google/uuid"
)

// DefaultTTL bounds how long a single grading decision may hold a claim
const DefaultTTL = 30 * time.Second

type entry struct {
	token   string
	expires time.Time
}

// Local is an in-process claim table for single-node deployments
type Local struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]entry
}

// NewLocal creates an in-process claim table
func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{
		ttl:    ttl,
		now:    time.Now,
		claims: make(map[string]entry),
	}
}

// Acquire claims instanceID and returns the release token
func (l *Local) Acquire(_ context.Context, instanceID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.claims[instanceID]; ok && now.Before(e.expires) {
		return "", domain.ErrClaimHeld
	}

	token := uuid.New().String()
	l.claims[instanceID] = entry{token: token, expires: now.Add(l.ttl)}
	return token, nil
}

// Release drops the claim if token still owns it
func (l *Local) Release(_ context.Context, instanceID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.claims[instanceID]; ok && e.token == token {
		delete(l.claims, instanceID)
	}
	return nil
}

// Len returns the number of claims currently tracked
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}
