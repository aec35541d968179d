package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"
)

// InstanceRepository stores instances and attempts in PostgreSQL
type InstanceRepository struct {
	pool     *pgxpool.Pool
	claimTTL time.Duration
}

// NewInstanceRepository creates a new PostgreSQL instance repository
func NewInstanceRepository(pool *pgxpool.Pool, claimTTL time.Duration) *InstanceRepository {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &InstanceRepository{pool: pool, claimTTL: claimTTL}
}

const instanceColumns = `id, topic_slug, archetype, kind, payload, expected,
	provenance_key, provenance_purpose, actor_ref, session_id, allow_reveal,
	finalized_at, finalized_reason, created_at`

// CreateInstance inserts an open instance
func (r *InstanceRepository) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	query := `
		INSERT INTO instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.TopicSlug, inst.Archetype, string(inst.Kind), []byte(inst.Payload),
		nullJSON(inst.Expected),
		inst.Provenance.Key, string(inst.Provenance.Purpose), inst.ActorRef,
		inst.SessionRef, inst.AllowReveal, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID
func (r *InstanceRepository) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`
	return scanInstance(r.pool.QueryRow(ctx, query, id))
}

// ListBySession returns the instances of a session, oldest first
func (r *InstanceRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE session_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
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

// ListPractice returns recent sessionless instances of topic for actorRef
func (r *InstanceRepository) ListPractice(ctx context.Context, actorRef, topic string, limit int) ([]*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances
		WHERE actor_ref = $1 AND topic_slug = $2 AND session_id IS NULL
		ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, actorRef, topic, limit)
	if err != nil {
		return nil, err
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

// CountNonReveal counts graded attempts
func (r *InstanceRepository) CountNonReveal(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE instance_id = $1 AND NOT is_reveal`, instanceID,
	).Scan(&n)
	return n, err
}

// RecordAttempt inserts the attempt and conditionally finalizes the instance
// in one transaction
func (r *InstanceRepository) RecordAttempt(ctx context.Context, a *domain.Attempt, finalize *domain.FinalizeReason) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO attempts (id, instance_id, actor_ref, is_reveal, payload, ok, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, a.ID, a.InstanceID, a.ActorRef, a.IsReveal, nullJSON(a.Payload), a.OK, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		if finalize == nil {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			UPDATE instances SET finalized_at = $1, finalized_reason = $2
			WHERE id = $3 AND finalized_at IS NULL
		`, a.CreatedAt, string(*finalize), a.InstanceID)
		if err != nil {
			return fmt.Errorf("finalize instance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyFinalized
		}
		return nil
	})
}

// Acquire claims an instance for grading
func (r *InstanceRepository) Acquire(ctx context.Context, instanceID string) (string, error) {
	token := uuid.New().String()
	tag, err := r.pool.Exec(ctx, `
		UPDATE instances SET claim_token = $1, claim_expires_at = now() + make_interval(secs => $2)
		WHERE id = $3 AND (claim_token IS NULL OR claim_expires_at < now())
	`, token, r.claimTTL.Seconds(), instanceID)
	if err != nil {
		return "", fmt.Errorf("claim instance: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return token, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM instances WHERE id = $1)`, instanceID).Scan(&exists); err != nil {
		return "", fmt.Errorf("check instance: %w", err)
	}
	if !exists {
		return "", nil
	}
	return "", domain.ErrClaimHeld
}

// Release drops a claim held by token
func (r *InstanceRepository) Release(ctx context.Context, instanceID, token string) error {
	if token == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE instances SET claim_token = NULL, claim_expires_at = NULL
		WHERE id = $1 AND claim_token = $2
	`, instanceID, token)
	return err
}

func scanInstance(row pgx.Row) (*domain.Instance, error) {
	var inst domain.Instance
	var kind, purpose string
	var payload []byte
	var expected pqtype.NullRawMessage
	var reason *string

	err := row.Scan(
		&inst.ID, &inst.TopicSlug, &inst.Archetype, &kind, &payload, &expected,
		&inst.Provenance.Key, &purpose, &inst.ActorRef, &inst.SessionRef, &inst.AllowReveal,
		&inst.FinalizedAt, &reason, &inst.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, err
	}

	inst.Kind = domain.Kind(kind)
	inst.Payload = payload
	inst.Provenance.Purpose = domain.Purpose(purpose)
	if expected.Valid {
		inst.Expected = expected.RawMessage
	}
	if reason != nil {
		inst.FinalizedReason = domain.FinalizeReason(*reason)
	}
	return &inst, nil
}

func nullJSON(raw []byte) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
