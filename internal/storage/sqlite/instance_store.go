package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/sqlc-dev/pqtype"
)

// InstanceStore persists issued instances and their attempts.
type InstanceStore struct {
	db *DB
}

// NewInstanceStore creates a new SQLite-backed instance store.
func NewInstanceStore(db *DB) *InstanceStore {
	return &InstanceStore{db: db}
}

const instanceColumns = `id, topic_slug, archetype, kind, payload, expected,
	provenance_key, provenance_purpose, actor_ref, session_id, allow_reveal,
	finalized_at, finalized_reason, created_at`

// CreateInstance inserts a new open instance.
func (s *InstanceStore) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		inst.ID, inst.TopicSlug, inst.Archetype, string(inst.Kind), string(inst.Payload),
		rawMessage(inst.Expected),
		inst.Provenance.Key, string(inst.Provenance.Purpose), inst.ActorRef,
		inst.SessionRef, inst.AllowReveal, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *InstanceStore) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ?", id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInstanceNotFound
	}
	return inst, err
}

// ListBySession returns the instances issued within a session, oldest first.
func (s *InstanceStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE session_id = ? ORDER BY created_at", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ListPractice returns up to limit sessionless instances of topic issued to
// actorRef, newest first.
func (s *InstanceStore) ListPractice(ctx context.Context, actorRef, topic string, limit int) ([]*domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+instanceColumns+` FROM instances
		 WHERE actor_ref = ? AND topic_slug = ? AND session_id IS NULL
		 ORDER BY created_at DESC LIMIT ?`, actorRef, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("list practice instances: %w", err)
	}
	defer rows.Close()

	var out []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountNonReveal returns the number of graded attempts for an instance.
func (s *InstanceStore) CountNonReveal(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attempts WHERE instance_id = ? AND is_reveal = 0", instanceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// RecordAttempt appends an attempt and, when finalize is set, finalizes the
// instance in the same transaction. Finalization only applies to open
// instances; otherwise nothing is written and ErrAlreadyFinalized is returned.
func (s *InstanceStore) RecordAttempt(ctx context.Context, a *domain.Attempt, finalize *domain.FinalizeReason) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (id, instance_id, actor_ref, is_reveal, payload, ok, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.InstanceID, a.ActorRef, a.IsReveal, rawMessage(a.Payload), a.OK, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		if finalize == nil {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE instances SET finalized_at = ?, finalized_reason = ?
			WHERE id = ? AND finalized_at IS NULL`,
			a.CreatedAt, string(*finalize), a.InstanceID,
		)
		if err != nil {
			return fmt.Errorf("finalize instance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrAlreadyFinalized
		}
		return nil
	})
}

// ListAttempts returns every attempt on an instance, oldest first.
func (s *InstanceStore) ListAttempts(ctx context.Context, instanceID string) ([]*domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, actor_ref, is_reveal, payload, ok, created_at
		FROM attempts WHERE instance_id = ? ORDER BY created_at, rowid`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var payload pqtype.NullRawMessage
		var ok sql.NullBool
		if err := rows.Scan(&a.ID, &a.InstanceID, &a.ActorRef, &a.IsReveal, &payload, &ok, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if payload.Valid {
			a.Payload = payload.RawMessage
		}
		if ok.Valid {
			a.OK = &ok.Bool
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*domain.Instance, error) {
	var inst domain.Instance
	var kind, purpose, payload string
	var expected pqtype.NullRawMessage
	var sessionID, reason sql.NullString
	var finalizedAt sql.NullTime

	err := row.Scan(
		&inst.ID, &inst.TopicSlug, &inst.Archetype, &kind, &payload, &expected,
		&inst.Provenance.Key, &purpose, &inst.ActorRef, &sessionID, &inst.AllowReveal,
		&finalizedAt, &reason, &inst.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	inst.Kind = domain.Kind(kind)
	inst.Payload = []byte(payload)
	inst.Provenance.Purpose = domain.Purpose(purpose)
	if expected.Valid {
		inst.Expected = expected.RawMessage
	}
	if sessionID.Valid {
		inst.SessionRef = &sessionID.String
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		inst.FinalizedAt = &t
		inst.FinalizedReason = domain.FinalizeReason(reason.String)
	}
	return &inst, nil
}

// rawMessage maps an empty payload to NULL.
func rawMessage(raw []byte) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
