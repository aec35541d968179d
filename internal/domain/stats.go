package domain

import "time"

// TopicStat aggregates grading outcomes for one pool key of a topic
type TopicStat struct {
	TopicSlug          string    `json:"topic_slug"`
	Key                string    `json:"key"`
	Attempts           int       `json:"attempts"`
	Correct            int       `json:"correct"`
	Reveals            int       `json:"reveals"`
	FinalizedCorrect   int       `json:"finalized_correct"`
	FinalizedExhausted int       `json:"finalized_exhausted"`
	UpdatedAt          time.Time `json:"updated_at"`
}
