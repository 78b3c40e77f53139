package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"mcq-attempt-service/internal/domain"
)

// CatalogLookup resolves the catalog rows joined into history.
type CatalogLookup interface {
	Course(id string) (domain.Course, bool)
	Lecture(id string) (domain.Lecture, bool)
}

// AttemptStore is an in-memory implementation of app.AttemptStore.
// It has no transactions; creation relies on the service's compensating delete.
type AttemptStore struct {
	catalog CatalogLookup

	mu        sync.RWMutex
	attempts  map[string]domain.Attempt
	questions map[string][]domain.AttemptQuestion
	answers   map[string][]domain.Answer
}

func NewAttemptStore(catalog CatalogLookup) *AttemptStore {
	return &AttemptStore{
		catalog:   catalog,
		attempts:  make(map[string]domain.Attempt),
		questions: make(map[string][]domain.AttemptQuestion),
		answers:   make(map[string][]domain.Answer),
	}
}

func (s *AttemptStore) InsertAttempt(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; ok {
		return fmt.Errorf("attempt %s already exists", attempt.ID)
	}
	s.attempts[attempt.ID] = attempt
	return nil
}

// InsertAttemptQuestions writes an attempt's paper once. Like the relational
// keys, it rejects a second paper and repeated questions or positions.
func (s *AttemptStore) InsertAttemptQuestions(_ context.Context, rows []domain.AttemptQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pos struct {
		attemptID string
		key       string
	}
	seen := make(map[pos]struct{}, 2*len(rows))
	for _, row := range rows {
		if _, ok := s.attempts[row.AttemptID]; !ok {
			return domain.ErrAttemptNotFound
		}
		if len(s.questions[row.AttemptID]) > 0 {
			return fmt.Errorf("attempt %s already has questions", row.AttemptID)
		}
		byQuestion := pos{row.AttemptID, "q:" + row.QuestionID}
		byOrder := pos{row.AttemptID, fmt.Sprintf("o:%d", row.OrderIndex)}
		if _, dup := seen[byQuestion]; dup {
			return fmt.Errorf("attempt %s lists question %s twice", row.AttemptID, row.QuestionID)
		}
		if _, dup := seen[byOrder]; dup {
			return fmt.Errorf("attempt %s repeats position %d", row.AttemptID, row.OrderIndex)
		}
		seen[byQuestion] = struct{}{}
		seen[byOrder] = struct{}{}
	}
	for _, row := range rows {
		s.questions[row.AttemptID] = append(s.questions[row.AttemptID], row)
	}
	return nil
}

func (s *AttemptStore) DeleteAttempt(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptID)
	delete(s.questions, attemptID)
	delete(s.answers, attemptID)
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptStore) AttemptQuestions(_ context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := append([]domain.AttemptQuestion(nil), s.questions[attemptID]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].OrderIndex < rows[j].OrderIndex })
	return rows, nil
}

func (s *AttemptStore) Answers(_ context.Context, attemptID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer(nil), s.answers[attemptID]...), nil
}

// FinalizeAttempt checks and sets submitted_at under one lock, so concurrent
// finalizations have exactly one winner.
func (s *AttemptStore) FinalizeAttempt(_ context.Context, f domain.Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[f.AttemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Submitted() {
		return domain.ErrAlreadySubmitted
	}
	if len(s.answers[f.AttemptID]) > 0 {
		return fmt.Errorf("attempt %s already has answers", f.AttemptID)
	}

	submittedAt := f.SubmittedAt
	attempt.CorrectCount = f.CorrectCount
	attempt.Score = f.Score
	attempt.SubmittedAt = &submittedAt
	s.attempts[f.AttemptID] = attempt
	s.answers[f.AttemptID] = append([]domain.Answer(nil), f.Answers...)
	return nil
}

func (s *AttemptStore) ListAttempts(_ context.Context, filter domain.AttemptFilter) ([]domain.AttemptRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.AttemptRow, 0)
	for _, attempt := range s.attempts {
		if attempt.UserID != filter.UserID {
			continue
		}
		if filter.CourseID != nil && attempt.CourseID != *filter.CourseID {
			continue
		}
		if filter.SubmittedOnly && !attempt.Submitted() {
			continue
		}
		if len(s.questions[attempt.ID]) == 0 {
			continue
		}
		row, err := s.joinRow(attempt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].StartedAt.After(rows[j].StartedAt) })
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

// joinRow mirrors the relational join: course is a to-one relation (object or
// null), lecture is declared to-many and arrives as a zero or one element array.
func (s *AttemptStore) joinRow(attempt domain.Attempt) (domain.AttemptRow, error) {
	row := domain.AttemptRow{Attempt: attempt, Course: json.RawMessage("null"), Lecture: json.RawMessage("[]")}
	if s.catalog == nil {
		return row, nil
	}
	if course, ok := s.catalog.Course(attempt.CourseID); ok {
		raw, err := json.Marshal(domain.CourseRef{ID: course.ID, Code: course.Code, Name: course.Name})
		if err != nil {
			return domain.AttemptRow{}, err
		}
		row.Course = raw
	}
	if attempt.LectureID != nil {
		if lecture, ok := s.catalog.Lecture(*attempt.LectureID); ok {
			raw, err := json.Marshal([]domain.LectureRef{{ID: lecture.ID, Title: lecture.Title}})
			if err != nil {
				return domain.AttemptRow{}, err
			}
			row.Lecture = raw
		}
	}
	return row, nil
}
