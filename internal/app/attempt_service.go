package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mcq-attempt-service/internal/domain"
)

// AttemptService owns the attempt lifecycle: creation, answer submission, finalization.
type AttemptService struct {
	questions QuestionRepository
	store     AttemptStore
	selector  *QuestionSelector
	stats     StatsCache
	now       Clock
	newID     func() string
}

func NewAttemptService(questions QuestionRepository, store AttemptStore, selector *QuestionSelector) *AttemptService {
	return &AttemptService{
		questions: questions,
		store:     store,
		selector:  selector,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *AttemptService) WithClock(now Clock) *AttemptService {
	s.now = now
	return s
}

// WithStatsCache makes finalization invalidate the submitting user's cached stats.
func (s *AttemptService) WithStatsCache(cache StatsCache) *AttemptService {
	s.stats = cache
	return s
}

// CreateAttemptRequest describes an attempt over an already selected, ordered question list.
type CreateAttemptRequest struct {
	CourseID    string
	LectureID   *string
	Mode        domain.Mode
	QuestionIDs []string
}

// StartRequest is the selector + creation pipeline input.
type StartRequest struct {
	CourseID  string
	LectureID *string
	Mode      domain.Mode
	Count     int
}

// StartResult carries the new attempt and how the draw went.
type StartResult struct {
	Attempt   domain.Attempt
	Selection Selection
}

// Result is the frozen outcome of a finalized attempt.
type Result struct {
	AttemptID      string    `json:"attemptId"`
	CorrectCount   int       `json:"correctCount"`
	TotalQuestions int       `json:"totalQuestions"`
	ScorePercent   int       `json:"scorePercent"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// PaperQuestion is a question at its fixed position in an attempt.
type PaperQuestion struct {
	OrderIndex int             `json:"orderIndex"`
	Question   domain.Question `json:"question"`
}

// Paper is an attempt with its ordered questions and, once submitted, its answers.
type Paper struct {
	Attempt   domain.Attempt  `json:"attempt"`
	Questions []PaperQuestion `json:"questions"`
	Answers   []domain.Answer `json:"answers"`
}

// Feedback is the practice-mode reveal for a single question.
type Feedback struct {
	QuestionID    string  `json:"questionId"`
	SelectedIndex int     `json:"selectedIndex"`
	Correct       bool    `json:"correct"`
	CorrectIndex  int     `json:"correctIndex"`
	Explanation   *string `json:"explanation,omitempty"`
}

// StartAttempt draws questions for the scope and creates an attempt over them.
func (s *AttemptService) StartAttempt(ctx context.Context, userID string, req StartRequest) (StartResult, error) {
	if userID == "" {
		return StartResult{}, domain.ErrUnauthenticated
	}
	if _, err := domain.ParseMode(string(req.Mode)); err != nil {
		return StartResult{}, err
	}

	selection, err := s.selector.SelectQuestions(ctx, SelectionRequest{
		CourseID:  req.CourseID,
		LectureID: req.LectureID,
		Count:     req.Count,
	})
	if err != nil {
		return StartResult{}, err
	}

	attempt, err := s.CreateAttempt(ctx, userID, CreateAttemptRequest{
		CourseID:    req.CourseID,
		LectureID:   req.LectureID,
		Mode:        req.Mode,
		QuestionIDs: selection.QuestionIDs,
	})
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Attempt: attempt, Selection: selection}, nil
}

// CreateAttempt persists an attempt and its question order as one unit.
func (s *AttemptService) CreateAttempt(ctx context.Context, userID string, req CreateAttemptRequest) (domain.Attempt, error) {
	if userID == "" {
		return domain.Attempt{}, domain.ErrUnauthenticated
	}
	mode, err := domain.ParseMode(string(req.Mode))
	if err != nil {
		return domain.Attempt{}, err
	}
	if len(req.QuestionIDs) == 0 {
		return domain.Attempt{}, domain.ErrEmptyQuestionSet
	}

	bank, err := s.questions.GetBank(ctx, req.CourseID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := bank.CheckLecture(req.LectureID); err != nil {
		return domain.Attempt{}, err
	}
	lookup := bank.Lookup()
	seen := make(map[string]struct{}, len(req.QuestionIDs))
	for _, id := range req.QuestionIDs {
		if _, dup := seen[id]; dup {
			return domain.Attempt{}, fmt.Errorf("%w: %s", domain.ErrDuplicateQuestion, id)
		}
		seen[id] = struct{}{}
		if q, ok := lookup[id]; !ok || q.CourseID != req.CourseID {
			return domain.Attempt{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotInCourse, id)
		}
	}

	attempt := domain.Attempt{
		ID:             s.newID(),
		UserID:         userID,
		CourseID:       req.CourseID,
		LectureID:      req.LectureID,
		Mode:           mode,
		TotalQuestions: len(req.QuestionIDs),
		StartedAt:      s.now().UTC(),
	}
	rows := make([]domain.AttemptQuestion, len(req.QuestionIDs))
	for i, id := range req.QuestionIDs {
		rows[i] = domain.AttemptQuestion{AttemptID: attempt.ID, QuestionID: id, OrderIndex: i}
	}

	if err := s.persist(ctx, attempt, rows); err != nil {
		return domain.Attempt{}, err
	}

	log.Info().
		Str("attemptId", attempt.ID).
		Str("userId", userID).
		Str("courseId", attempt.CourseID).
		Str("mode", string(mode)).
		Int("questions", attempt.TotalQuestions).
		Msg("attempt created")
	return attempt, nil
}

func (s *AttemptService) persist(ctx context.Context, attempt domain.Attempt, rows []domain.AttemptQuestion) error {
	if tx, ok := s.store.(TxStore); ok {
		return tx.WithinTx(ctx, func(ctx context.Context, store AttemptStore) error {
			if err := store.InsertAttempt(ctx, attempt); err != nil {
				return fmt.Errorf("insert attempt: %w", err)
			}
			if err := store.InsertAttemptQuestions(ctx, rows); err != nil {
				// the transaction rolls the attempt row back with it
				return &domain.PartialCreationError{AttemptID: attempt.ID, Discarded: true, Err: err}
			}
			return nil
		})
	}

	if err := s.store.InsertAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if err := s.store.InsertAttemptQuestions(ctx, rows); err != nil {
		partial := &domain.PartialCreationError{AttemptID: attempt.ID, Discarded: true, Err: err}
		if delErr := s.store.DeleteAttempt(context.WithoutCancel(ctx), attempt.ID); delErr != nil {
			partial.Discarded = false
			log.Error().Err(delErr).Str("attemptId", attempt.ID).Msg("compensating delete failed, attempt left without questions")
		}
		return partial
	}
	return nil
}

// SubmitAnswers grades a complete answer set and finalizes the attempt exactly once.
func (s *AttemptService) SubmitAnswers(ctx context.Context, userID, attemptID string, answers map[string]int) (Result, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return Result{}, err
	}
	if attempt.Submitted() {
		return Result{}, domain.ErrAlreadySubmitted
	}

	paper, err := s.store.AttemptQuestions(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if len(paper) == 0 {
		return Result{}, fmt.Errorf("%w: attempt %s has no questions", domain.ErrPartialCreation, attemptID)
	}

	inPaper := make(map[string]struct{}, len(paper))
	for _, row := range paper {
		inPaper[row.QuestionID] = struct{}{}
	}
	for questionID := range answers {
		if _, ok := inPaper[questionID]; !ok {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotInAttempt, questionID)
		}
	}
	if missing := len(paper) - len(answers); missing > 0 {
		return Result{}, &domain.IncompleteSubmissionError{Missing: missing}
	}

	lookup, err := s.bankLookup(ctx, attempt.CourseID)
	if err != nil {
		return Result{}, err
	}

	submittedAt := s.now().UTC()
	graded := make([]domain.Answer, 0, len(paper))
	correct := 0
	for _, row := range paper {
		q, ok := lookup[row.QuestionID]
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, row.QuestionID)
		}
		selected := answers[row.QuestionID]
		if !q.ValidChoice(selected) {
			return Result{}, fmt.Errorf("%w: question %s index %d", domain.ErrChoiceOutOfRange, q.ID, selected)
		}
		isCorrect := selected == q.CorrectIndex
		if isCorrect {
			correct++
		}
		graded = append(graded, domain.Answer{
			AttemptID:     attemptID,
			QuestionID:    row.QuestionID,
			SelectedIndex: selected,
			IsCorrect:     isCorrect,
			AnsweredAt:    submittedAt,
		})
	}

	score := domain.Percent(correct, attempt.TotalQuestions)
	if err := s.store.FinalizeAttempt(ctx, domain.Finalization{
		AttemptID:    attemptID,
		CorrectCount: correct,
		Score:        score,
		SubmittedAt:  submittedAt,
		Answers:      graded,
	}); err != nil {
		return Result{}, err
	}

	if s.stats != nil {
		if err := s.stats.Invalidate(ctx, userID); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("stats cache invalidation failed")
		}
	}

	log.Info().
		Str("attemptId", attemptID).
		Str("userId", userID).
		Int("correct", correct).
		Int("total", attempt.TotalQuestions).
		Int("score", score).
		Msg("attempt submitted")

	return Result{
		AttemptID:      attemptID,
		CorrectCount:   correct,
		TotalQuestions: attempt.TotalQuestions,
		ScorePercent:   score,
		SubmittedAt:    submittedAt,
	}, nil
}

// GetPaper returns the attempt with its questions in their fixed order.
func (s *AttemptService) GetPaper(ctx context.Context, userID, attemptID string) (Paper, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return Paper{}, err
	}
	rows, err := s.store.AttemptQuestions(ctx, attemptID)
	if err != nil {
		return Paper{}, err
	}
	lookup, err := s.bankLookup(ctx, attempt.CourseID)
	if err != nil {
		return Paper{}, err
	}

	questions := make([]PaperQuestion, 0, len(rows))
	for _, row := range rows {
		q, ok := lookup[row.QuestionID]
		if !ok {
			return Paper{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, row.QuestionID)
		}
		questions = append(questions, PaperQuestion{OrderIndex: row.OrderIndex, Question: q})
	}

	answers := []domain.Answer{}
	if attempt.Submitted() {
		if answers, err = s.store.Answers(ctx, attemptID); err != nil {
			return Paper{}, err
		}
	}
	return Paper{Attempt: attempt, Questions: questions, Answers: answers}, nil
}

// CheckAnswer reveals correctness for one question without recording anything.
// Exam-mode attempts only reveal after submission.
func (s *AttemptService) CheckAnswer(ctx context.Context, userID, attemptID, questionID string, selected int) (Feedback, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return Feedback{}, err
	}
	if attempt.Mode == domain.ModeExam && !attempt.Submitted() {
		return Feedback{}, domain.ErrFeedbackWithheld
	}

	rows, err := s.store.AttemptQuestions(ctx, attemptID)
	if err != nil {
		return Feedback{}, err
	}
	found := false
	for _, row := range rows {
		if row.QuestionID == questionID {
			found = true
			break
		}
	}
	if !found {
		return Feedback{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotInAttempt, questionID)
	}

	lookup, err := s.bankLookup(ctx, attempt.CourseID)
	if err != nil {
		return Feedback{}, err
	}
	q, ok := lookup[questionID]
	if !ok {
		return Feedback{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	if !q.ValidChoice(selected) {
		return Feedback{}, fmt.Errorf("%w: question %s index %d", domain.ErrChoiceOutOfRange, q.ID, selected)
	}
	return Feedback{
		QuestionID:    questionID,
		SelectedIndex: selected,
		Correct:       selected == q.CorrectIndex,
		CorrectIndex:  q.CorrectIndex,
		Explanation:   q.Explanation,
	}, nil
}

func (s *AttemptService) ownedAttempt(ctx context.Context, userID, attemptID string) (domain.Attempt, error) {
	if userID == "" {
		return domain.Attempt{}, domain.ErrUnauthenticated
	}
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrForbidden
	}
	return attempt, nil
}

func (s *AttemptService) bankLookup(ctx context.Context, courseID string) (map[string]domain.Question, error) {
	bank, err := s.questions.GetBank(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return bank.Lookup(), nil
}
