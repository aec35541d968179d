package postgres

import "github.com/felixgeelhaar/drill/internal/grading"

var (
	_ grading.InstanceStore        = (*InstanceRepository)(nil)
	_ grading.AttemptStore         = (*InstanceRepository)(nil)
	_ grading.Claimer              = (*InstanceRepository)(nil)
	_ grading.SessionStore         = (*SessionRepository)(nil)
	_ grading.CompletionAggregator = (*SessionRepository)(nil)
)
