package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
)

type attemptModel struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID             string     `bun:"id,pk"`
	UserID         string     `bun:"user_id"`
	CourseID       string     `bun:"course_id"`
	LectureID      *string    `bun:"lecture_id"`
	Mode           string     `bun:"mode"`
	TotalQuestions int        `bun:"total_questions"`
	CorrectCount   int        `bun:"correct_count"`
	Score          int        `bun:"score"`
	StartedAt      time.Time  `bun:"started_at"`
	SubmittedAt    *time.Time `bun:"submitted_at"`
}

type attemptQuestionModel struct {
	bun.BaseModel `bun:"table:attempt_questions,alias:aq"`

	AttemptID  string `bun:"attempt_id,pk"`
	QuestionID string `bun:"question_id,pk"`
	OrderIndex int    `bun:"order_index"`
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers,alias:ans"`

	AttemptID     string    `bun:"attempt_id,pk"`
	QuestionID    string    `bun:"question_id,pk"`
	SelectedIndex int       `bun:"selected_index"`
	IsCorrect     bool      `bun:"is_correct"`
	AnsweredAt    time.Time `bun:"answered_at"`
}

// historyRow carries the joined course/lecture payloads as text so the
// store-side cardinality reaches the domain normalizer untouched.
type historyRow struct {
	attemptModel `bun:",extend"`

	Course  *string `bun:"course"`
	Lecture *string `bun:"lecture"`
}

const (
	courseJSON = `CASE WHEN c.id IS NULL THEN NULL
		ELSE jsonb_build_object('id', c.id, 'code', c.code, 'name', c.name)::text END AS course`
	lectureJSON = `COALESCE((SELECT jsonb_agg(jsonb_build_object('id', l.id, 'title', l.title))
		FROM lectures AS l WHERE l.id = a.lecture_id), '[]'::jsonb)::text AS lecture`
)

// AttemptStore persists attempts through bun. Writes that must land together
// run inside a transaction.
type AttemptStore struct {
	db   bun.IDB
	root *bun.DB
}

var (
	_ app.AttemptStore = (*AttemptStore)(nil)
	_ app.TxStore      = (*AttemptStore)(nil)
)

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db, root: db}
}

func (s *AttemptStore) WithinTx(ctx context.Context, fn func(ctx context.Context, store app.AttemptStore) error) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		return fn(ctx, &AttemptStore{db: tx, root: s.root})
	})
}

func (s *AttemptStore) inTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	if tx, ok := s.db.(bun.Tx); ok {
		return fn(ctx, tx)
	}
	return s.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (s *AttemptStore) InsertAttempt(ctx context.Context, attempt domain.Attempt) error {
	m := toAttemptModel(attempt)
	if _, err := s.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) InsertAttemptQuestions(ctx context.Context, rows []domain.AttemptQuestion) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]attemptQuestionModel, len(rows))
	for i, row := range rows {
		models[i] = attemptQuestionModel{AttemptID: row.AttemptID, QuestionID: row.QuestionID, OrderIndex: row.OrderIndex}
	}
	if _, err := s.db.NewInsert().Model(&models).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt questions: %w", err)
	}
	return nil
}

func (s *AttemptStore) DeleteAttempt(ctx context.Context, attemptID string) error {
	if _, err := s.db.NewDelete().Model((*attemptModel)(nil)).Where("id = ?", attemptID).Exec(ctx); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var m attemptModel
	err := s.db.NewSelect().Model(&m).Where("a.id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return m.toDomain(), nil
}

func (s *AttemptStore) AttemptQuestions(ctx context.Context, attemptID string) ([]domain.AttemptQuestion, error) {
	var models []attemptQuestionModel
	err := s.db.NewSelect().Model(&models).
		Where("aq.attempt_id = ?", attemptID).
		Order("aq.order_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("attempt questions: %w", err)
	}
	out := make([]domain.AttemptQuestion, len(models))
	for i, m := range models {
		out[i] = domain.AttemptQuestion{AttemptID: m.AttemptID, QuestionID: m.QuestionID, OrderIndex: m.OrderIndex}
	}
	return out, nil
}

func (s *AttemptStore) Answers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	var models []answerModel
	err := s.db.NewSelect().Model(&models).
		Where("ans.attempt_id = ?", attemptID).
		Order("ans.question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("answers: %w", err)
	}
	out := make([]domain.Answer, len(models))
	for i, m := range models {
		out[i] = domain.Answer{
			AttemptID:     m.AttemptID,
			QuestionID:    m.QuestionID,
			SelectedIndex: m.SelectedIndex,
			IsCorrect:     m.IsCorrect,
			AnsweredAt:    m.AnsweredAt,
		}
	}
	return out, nil
}

// FinalizeAttempt closes the attempt with a conditional update on
// submitted_at IS NULL, so concurrent submissions produce one winner.
func (s *AttemptStore) FinalizeAttempt(ctx context.Context, f domain.Finalization) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		res, err := tx.NewUpdate().Model((*attemptModel)(nil)).
			Set("correct_count = ?", f.CorrectCount).
			Set("score = ?", f.Score).
			Set("submitted_at = ?", f.SubmittedAt).
			Where("id = ?", f.AttemptID).
			Where("submitted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		if n == 0 {
			exists, err := tx.NewSelect().Model((*attemptModel)(nil)).Where("a.id = ?", f.AttemptID).Exists(ctx)
			if err != nil {
				return fmt.Errorf("finalize attempt: %w", err)
			}
			if !exists {
				return domain.ErrAttemptNotFound
			}
			return domain.ErrAlreadySubmitted
		}

		if len(f.Answers) == 0 {
			return nil
		}
		models := make([]answerModel, len(f.Answers))
		for i, a := range f.Answers {
			models[i] = answerModel{
				AttemptID:     f.AttemptID,
				QuestionID:    a.QuestionID,
				SelectedIndex: a.SelectedIndex,
				IsCorrect:     a.IsCorrect,
				AnsweredAt:    a.AnsweredAt,
			}
		}
		if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
			return fmt.Errorf("insert answers: %w", err)
		}
		return nil
	})
}

func (s *AttemptStore) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.AttemptRow, error) {
	var rows []historyRow
	q := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("a.*").
		ColumnExpr(courseJSON).
		ColumnExpr(lectureJSON).
		Join("LEFT JOIN courses AS c ON c.id = a.course_id").
		Where("a.user_id = ?", filter.UserID).
		Where("EXISTS (SELECT 1 FROM attempt_questions AS aq WHERE aq.attempt_id = a.id)").
		OrderExpr("a.started_at DESC")
	if filter.CourseID != nil {
		q = q.Where("a.course_id = ?", *filter.CourseID)
	}
	if filter.SubmittedOnly {
		q = q.Where("a.submitted_at IS NOT NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	out := make([]domain.AttemptRow, len(rows))
	for i, row := range rows {
		out[i] = domain.AttemptRow{
			Attempt: row.toDomain(),
			Course:  rawJSON(row.Course),
			Lecture: rawJSON(row.Lecture),
		}
	}
	return out, nil
}

func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(*s)
}

func toAttemptModel(a domain.Attempt) attemptModel {
	return attemptModel{
		ID:             a.ID,
		UserID:         a.UserID,
		CourseID:       a.CourseID,
		LectureID:      a.LectureID,
		Mode:           string(a.Mode),
		TotalQuestions: a.TotalQuestions,
		CorrectCount:   a.CorrectCount,
		Score:          a.Score,
		StartedAt:      a.StartedAt,
		SubmittedAt:    a.SubmittedAt,
	}
}

func (m attemptModel) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:             m.ID,
		UserID:         m.UserID,
		CourseID:       m.CourseID,
		LectureID:      m.LectureID,
		Mode:           domain.Mode(m.Mode),
		TotalQuestions: m.TotalQuestions,
		CorrectCount:   m.CorrectCount,
		Score:          m.Score,
		StartedAt:      m.StartedAt.UTC(),
		SubmittedAt:    utcPtr(m.SubmittedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
