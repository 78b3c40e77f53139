package app

import (
	"context"
	"time"

	"mcq-attempt-service/internal/domain"
)

// QuestionRepository loads a course's question bank (from cache/backing store).
// Unknown courses fail with domain.ErrCourseNotFound.
type QuestionRepository interface {
	GetBank(ctx context.Context, courseID string) (domain.QuestionBank, error)
}

// AttemptStore persists attempts and their child records.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt domain.Attempt) error
	InsertAttemptQuestions(ctx context.Context, rows []domain.AttemptQuestion) error
	DeleteAttempt(ctx context.Context, attemptID string) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	// AttemptQuestions returns the paper ordered by OrderIndex.
	AttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error)
	Answers(ctx context.Context, attemptID string) ([]domain.Answer, error)
	// FinalizeAttempt writes answers and score only if the attempt is still open,
	// failing with domain.ErrAlreadySubmitted otherwise.
	FinalizeAttempt(ctx context.Context, f domain.Finalization) error
	// ListAttempts returns rows ordered by StartedAt descending. Attempts without
	// linked questions are never returned.
	ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.AttemptRow, error)
}

// TxStore is implemented by stores that can scope several writes to one transaction.
type TxStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store AttemptStore) error) error
}

// StatsCache holds per-user course statistics between submissions.
// Get also returns the user's current version token; Set is a no-op once
// Invalidate has run since that token was read.
type StatsCache interface {
	Get(ctx context.Context, userID, scope string) (stats []domain.CourseStats, version string, ok bool, err error)
	Set(ctx context.Context, userID, scope, version string, stats []domain.CourseStats) error
	Invalidate(ctx context.Context, userID string) error
}

// Clock is swapped in tests for deterministic timestamps.
type Clock func() time.Time
