package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCourseNotFound is returned when the catalog has no such course.
	ErrCourseNotFound = errors.New("course not found")
	// ErrLectureNotFound is returned when a lecture filter names no lecture of the course.
	ErrLectureNotFound = errors.New("lecture not found")
	// ErrAttemptNotFound is returned when an attempt ID does not resolve.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuestionNotFound indicates a paper references a question missing from the bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoEligibleQuestions means the selection scope matched nothing.
	ErrNoEligibleQuestions = errors.New("no eligible questions")
	// ErrPartialCreation marks an attempt whose question order could not be persisted.
	ErrPartialCreation = errors.New("attempt creation incomplete")
	// ErrIncompleteSubmission is matched by IncompleteSubmissionError.
	ErrIncompleteSubmission = errors.New("submission incomplete")
	// ErrAlreadySubmitted rejects a second finalization.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrUnauthenticated is returned when no acting user is known.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when a user touches another user's attempt.
	ErrForbidden = errors.New("attempt belongs to another user")

	ErrInvalidMode          = errors.New("mode must be practice or exam")
	ErrEmptyQuestionSet     = errors.New("attempt needs at least one question")
	ErrDuplicateQuestion    = errors.New("question listed twice")
	ErrQuestionNotInCourse  = errors.New("question does not belong to course")
	ErrQuestionNotInAttempt = errors.New("question is not part of this attempt")
	ErrChoiceOutOfRange     = errors.New("selected choice out of range")
	ErrFeedbackWithheld     = errors.New("feedback is withheld until submission in exam mode")
	ErrAmbiguousRelation    = errors.New("relation resolved to more than one row")
)

// IncompleteSubmissionError reports how many questions were left unanswered.
type IncompleteSubmissionError struct {
	Missing int
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("%d question(s) unanswered", e.Missing)
}

func (e *IncompleteSubmissionError) Unwrap() error { return ErrIncompleteSubmission }

// PartialCreationError is returned when the attempt row was written but its questions were not.
type PartialCreationError struct {
	AttemptID string
	// Discarded is false only when the compensating delete also failed.
	Discarded bool
	Err       error
}

func (e *PartialCreationError) Error() string {
	state := "discarded"
	if !e.Discarded {
		state = "orphaned"
	}
	return fmt.Sprintf("attempt %s %s: %v", e.AttemptID, state, e.Err)
}

func (e *PartialCreationError) Unwrap() []error { return []error{ErrPartialCreation, e.Err} }
