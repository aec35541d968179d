package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/grading"
)

// StatsStore folds grading events into per-key topic statistics.
type StatsStore struct {
	db *DB
}

// NewStatsStore creates a new SQLite-backed stats store.
func NewStatsStore(db *DB) *StatsStore {
	return &StatsStore{db: db}
}

// Record applies one grading event.
func (s *StatsStore) Record(ctx context.Context, e grading.Event) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_stats (topic_slug, pool_key, attempts, correct, reveals,
			finalized_correct, finalized_exhausted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic_slug, pool_key) DO UPDATE SET
			attempts = attempts + excluded.attempts,
			correct = correct + excluded.correct,
			reveals = reveals + excluded.reveals,
			finalized_correct = finalized_correct + excluded.finalized_correct,
			finalized_exhausted = finalized_exhausted + excluded.finalized_exhausted,
			updated_at = excluded.updated_at`,
		e.TopicSlug, e.Key, attempts, correct, reveals, finCorrect, finExhausted, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert topic stats: %w", err)
	}
	return nil
}

// List returns statistics ordered by topic and key.
func (s *StatsStore) List(ctx context.Context) ([]domain.TopicStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic_slug, pool_key, attempts, correct, reveals,
			finalized_correct, finalized_exhausted, updated_at
		FROM topic_stats ORDER BY topic_slug, pool_key`)
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
