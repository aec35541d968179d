package postgres

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsRepository folds grading events into topic_stats
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new PostgreSQL stats repository
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// Record applies one grading event
func (r *StatsRepository) Record(ctx context.Context, e grading.Event) error {
	var attempts, correct, reveals, finCorrect, finExhausted int
	switch e.Type {
	case grading.EventAttemptRecorded:
		if e.IsReveal {
			reveals = 1
		} else {
			attempts = 1
			if e.OK != nil && *e.OK {
				correct = 1
			}
		}
	case grading.EventInstanceFinalized:
		switch e.Reason {
		case domain.FinalizedCorrect:
			finCorrect = 1
		case domain.FinalizedExhausted:
			finExhausted = 1
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO topic_stats (topic_slug, pool_key, attempts, correct, reveals,
			finalized_correct, finalized_exhausted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (topic_slug, pool_key) DO UPDATE SET
			attempts = topic_stats.attempts + EXCLUDED.attempts,
			correct = topic_stats.correct + EXCLUDED.correct,
			reveals = topic_stats.reveals + EXCLUDED.reveals,
			finalized_correct = topic_stats.finalized_correct + EXCLUDED.finalized_correct,
			finalized_exhausted = topic_stats.finalized_exhausted + EXCLUDED.finalized_exhausted,
			updated_at = EXCLUDED.updated_at
	`, e.TopicSlug, e.Key, attempts, correct, reveals, finCorrect, finExhausted)
	if err != nil {
		return fmt.Errorf("upsert topic stats: %w", err)
	}
	return nil
}

// List returns statistics ordered by topic and key
func (r *StatsRepository) List(ctx context.Context) ([]domain.TopicStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT topic_slug, pool_key, attempts, correct, reveals,
			finalized_correct, finalized_exhausted, updated_at
		FROM topic_stats ORDER BY topic_slug, pool_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list topic stats: %w", err)
	}
	defer rows.Close()

	var out []domain.TopicStat
	for rows.Next() {
		var st domain.TopicStat
		if err := rows.Scan(&st.TopicSlug, &st.Key, &st.Attempts, &st.Correct, &st.Reveals,
			&st.FinalizedCorrect, &st.FinalizedExhausted, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan topic stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
