package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository stores sessions and assignments in PostgreSQL
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateAssignment inserts an assignment
func (r *SessionRepository) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignments (id, title, allow_reveal, max_attempts, show_debug, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Title, a.AllowReveal, a.MaxAttempts, a.ShowDebug, a.CreatedAt)
	return err
}

// GetAssignment retrieves an assignment by ID
func (r *SessionRepository) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	var a domain.Assignment
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, allow_reveal, max_attempts, show_debug, created_at
		FROM assignments WHERE id = $1
	`, id).Scan(&a.ID, &a.Title, &a.AllowReveal, &a.MaxAttempts, &a.ShowDebug, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateSession inserts a session
func (r *SessionRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, owner_ref, assignment_id, completed_at, created_at)
		VALUES ($1, $2, $3, NULL, $4)
	`, s.ID, s.OwnerRef, s.AssignmentID, s.CreatedAt)
	return err
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_ref, assignment_id, completed_at, created_at
		FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.OwnerRef, &s.AssignmentID, &s.CompletedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CompleteSession stamps completed_at when the session has instances and
// none of them is open
func (r *SessionRepository) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	var total, open int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE finalized_at IS NULL)
		FROM instances WHERE session_id = $1
	`, sessionID).Scan(&total, &open)
	if err != nil {
		return false, fmt.Errorf("count session instances: %w", err)
	}
	if total == 0 || open > 0 {
		return false, nil
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE sessions SET completed_at = now() WHERE id = $1 AND completed_at IS NULL`, sessionID)
	if err != nil {
		return true, fmt.Errorf("mark session complete: %w", err)
	}
	return true, nil
}
