package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/google/uuid"
)

// ClaimStore grants grading claims with a conditional UPDATE on the
// instance row, so claims hold across processes sharing the database.
type ClaimStore struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// NewClaimStore creates a store-backed claimer.
func NewClaimStore(db *DB, ttl time.Duration) *ClaimStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ClaimStore{db: db, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Acquire claims an instance unless an unexpired claim exists.
func (s *ClaimStore) Acquire(ctx context.Context, instanceID string) (string, error) {
	token := uuid.New().String()
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances SET claim_token = ?, claim_expires_at = ?
		WHERE id = ? AND (claim_token IS NULL OR claim_expires_at < ?)`,
		token, now.Add(s.ttl), instanceID, now,
	)
	if err != nil {
		return "", fmt.Errorf("claim instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instances WHERE id = ?", instanceID).Scan(&exists); err != nil {
			return "", fmt.Errorf("check instance: %w", err)
		}
		if exists == 0 {
			// Nothing to protect; the controller reports the missing instance.
			return "", nil
		}
		return "", domain.ErrClaimHeld
	}
	return token, nil
}

// Release clears the claim if token still owns it.
func (s *ClaimStore) Release(ctx context.Context, instanceID, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances SET claim_token = NULL, claim_expires_at = NULL
		WHERE id = ? AND claim_token = ?`, instanceID, token)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
