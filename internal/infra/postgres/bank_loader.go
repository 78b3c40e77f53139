package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"mcq-attempt-service/internal/domain"
)

// BankLoader reads a course's question bank from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, courseID string) (domain.QuestionBank, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id=$1)`, courseID).Scan(&exists)
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load course: %w", err)
	}
	if !exists {
		return domain.QuestionBank{}, domain.ErrCourseNotFound
	}

	bank := domain.QuestionBank{CourseID: courseID}
	if bank.Lectures, err = l.loadLectures(ctx, courseID); err != nil {
		return domain.QuestionBank{}, err
	}

	// byte order, matching what the caches return
	rows, err := l.pool.Query(ctx, `
		SELECT id, course_id, lecture_id, text, choices, correct_index, explanation
		FROM questions
		WHERE course_id=$1
		ORDER BY id COLLATE "C"`, courseID)
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       domain.Question
			choices []byte
		)
		if err := rows.Scan(&q.ID, &q.CourseID, &q.LectureID, &q.Text, &choices, &q.CorrectIndex, &q.Explanation); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(choices, &q.Choices); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("unmarshal choices for %s: %w", q.ID, err)
		}
		bank.Questions = append(bank.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load questions: %w", err)
	}
	domain.SortQuestions(bank.Questions)
	return bank, nil
}

func (l *BankLoader) loadLectures(ctx context.Context, courseID string) ([]domain.Lecture, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, course_id, title, order_index
		FROM lectures
		WHERE course_id=$1
		ORDER BY order_index, id COLLATE "C"`, courseID)
	if err != nil {
		return nil, fmt.Errorf("load lectures: %w", err)
	}
	defer rows.Close()

	var lectures []domain.Lecture
	for rows.Next() {
		var lecture domain.Lecture
		if err := rows.Scan(&lecture.ID, &lecture.CourseID, &lecture.Title, &lecture.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}
		lectures = append(lectures, lecture)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load lectures: %w", err)
	}
	return lectures, nil
}
