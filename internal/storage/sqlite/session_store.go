package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// SessionStore implements session and assignment persistence backed by SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new SQLite-backed session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateAssignment inserts an assignment policy.
func (s *SessionStore) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, title, allow_reveal, max_attempts, show_debug, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.AllowReveal, a.MaxAttempts, a.ShowDebug, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// GetAssignment retrieves an assignment by ID.
func (s *SessionStore) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	var a domain.Assignment
	var maxAttempts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, allow_reveal, max_attempts, show_debug, created_at
		FROM assignments WHERE id = ?`, id,
	).Scan(&a.ID, &a.Title, &a.AllowReveal, &maxAttempts, &a.ShowDebug, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	if maxAttempts.Valid {
		n := int(maxAttempts.Int64)
		a.MaxAttempts = &n
	}
	return &a, nil
}

// CreateSession inserts a session.
func (s *SessionStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_ref, assignment_id, completed_at, created_at)
		VALUES (?, ?, ?, NULL, ?)`,
		sess.ID, sess.OwnerRef, sess.AssignmentID, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var assignmentID sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_ref, assignment_id, completed_at, created_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.OwnerRef, &assignmentID, &completedAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if assignmentID.Valid {
		sess.AssignmentID = &assignmentID.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

// CompleteSession stamps completed_at once the session has at least one
// instance and none of them is open. It reports whether the session is complete.
func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	var total, open int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN finalized_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM instances WHERE session_id = ?`, sessionID,
	).Scan(&total, &open)
	if err != nil {
		return false, fmt.Errorf("count session instances: %w", err)
	}
	if total == 0 || open > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET completed_at = ? WHERE id = ? AND completed_at IS NULL",
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return true, fmt.Errorf("mark session complete: %w", err)
	}
	return true, nil
}
