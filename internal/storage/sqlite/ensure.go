package sqlite

import "github.com/felixgeelhaar/drill/internal/grading"

// Ensure SQLite stores implement the grading interfaces.
var (
	_ grading.InstanceStore        = (*InstanceStore)(nil)
	_ grading.AttemptStore         = (*InstanceStore)(nil)
	_ grading.SessionStore         = (*SessionStore)(nil)
	_ grading.CompletionAggregator = (*SessionStore)(nil)
	_ grading.Claimer              = (*ClaimStore)(nil)
)
