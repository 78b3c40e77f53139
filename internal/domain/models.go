package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Mode controls presentation policy only; scoring and persistence are identical.
type Mode string

const (
	ModePractice Mode = "practice"
	ModeExam     Mode = "exam"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModePractice, ModeExam:
		return Mode(raw), nil
	}
	return "", ErrInvalidMode
}

// Question is an authored MCQ item. It is read-only from this service's perspective.
type Question struct {
	ID           string   `json:"id"`
	CourseID     string   `json:"courseId"`
	LectureID    *string  `json:"lectureId,omitempty"`
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  *string  `json:"explanation,omitempty"`
}

// EligibleFor reports whether the question can be drawn for the lecture filter.
// Course-wide questions (no lecture) are always eligible.
func (q Question) EligibleFor(lectureID *string) bool {
	if lectureID == nil || q.LectureID == nil {
		return true
	}
	return *q.LectureID == *lectureID
}

// ValidChoice reports whether idx addresses one of the question's choices.
func (q Question) ValidChoice(idx int) bool {
	return idx >= 0 && idx < len(q.Choices)
}

// QuestionBank is every question and lecture authored for one course.
type QuestionBank struct {
	CourseID  string     `json:"courseId"`
	Lectures  []Lecture  `json:"lectures"`
	Questions []Question `json:"questions"`
}

// HasLecture reports whether lectureID is one of this course's lectures.
func (b QuestionBank) HasLecture(lectureID string) bool {
	for _, l := range b.Lectures {
		if l.ID == lectureID && l.CourseID == b.CourseID {
			return true
		}
	}
	return false
}

// CheckLecture fails with ErrLectureNotFound unless lectureID is nil or belongs to the course.
func (b QuestionBank) CheckLecture(lectureID *string) error {
	if lectureID == nil || b.HasLecture(*lectureID) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrLectureNotFound, *lectureID)
}

// SortQuestions orders questions by ID in byte order, the canonical bank order
// every loader and cache returns.
func SortQuestions(questions []Question) {
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
}

// SortLectures orders lectures by position, then ID.
func SortLectures(lectures []Lecture) {
	sort.Slice(lectures, func(i, j int) bool {
		if lectures[i].OrderIndex != lectures[j].OrderIndex {
			return lectures[i].OrderIndex < lectures[j].OrderIndex
		}
		return lectures[i].ID < lectures[j].ID
	})
}

// Lookup indexes the bank by question ID.
func (b QuestionBank) Lookup() map[string]Question {
	out := make(map[string]Question, len(b.Questions))
	for _, q := range b.Questions {
		out[q.ID] = q
	}
	return out
}

// Course and Lecture are catalog entries joined into history rows.
type Course struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Lecture struct {
	ID         string `json:"id"`
	CourseID   string `json:"courseId"`
	Title      string `json:"title"`
	OrderIndex int    `json:"orderIndex"`
}

// Attempt is the aggregate root of one quiz sitting.
type Attempt struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CourseID       string     `json:"courseId"`
	LectureID      *string    `json:"lectureId,omitempty"`
	Mode           Mode       `json:"mode"`
	TotalQuestions int        `json:"totalQuestions"`
	CorrectCount   int        `json:"correctCount"`
	Score          int        `json:"score"`
	StartedAt      time.Time  `json:"startedAt"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
}

// Submitted reports whether the attempt has been finalized.
func (a Attempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// AttemptQuestion pins a question to a position in an attempt's paper.
type AttemptQuestion struct {
	AttemptID  string `json:"attemptId"`
	QuestionID string `json:"questionId"`
	OrderIndex int    `json:"orderIndex"`
}

// Answer is a single graded response within a submitted attempt.
type Answer struct {
	AttemptID     string    `json:"attemptId"`
	QuestionID    string    `json:"questionId"`
	SelectedIndex int       `json:"selectedIndex"`
	IsCorrect     bool      `json:"isCorrect"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// Finalization is the write set applied when an attempt is submitted.
type Finalization struct {
	AttemptID    string
	CorrectCount int
	Score        int
	SubmittedAt  time.Time
	Answers      []Answer
}

// AttemptFilter scopes a history query.
type AttemptFilter struct {
	UserID        string
	CourseID      *string
	SubmittedOnly bool
	Limit         int
}

// AttemptRow is an attempt joined with its course and lecture as the store returns it.
// Course and Lecture may arrive as an object, null, or a zero/one element array.
type AttemptRow struct {
	Attempt
	Course  json.RawMessage `json:"course"`
	Lecture json.RawMessage `json:"lecture"`
}

// CourseRef and LectureRef are the catalog fields exposed in history.
type CourseRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type LectureRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// AttemptSummary is a history entry with relations resolved to exactly one or nil.
type AttemptSummary struct {
	Attempt
	Course  *CourseRef  `json:"course"`
	Lecture *LectureRef `json:"lecture"`
}

// CourseStats summarizes a user's submitted attempts for one course.
type CourseStats struct {
	CourseID     string `json:"courseId"`
	LastScore    int    `json:"lastScore"`
	LastLabel    string `json:"lastLabel"`
	BestScore    int    `json:"bestScore"`
	AverageScore int    `json:"averageScore"`
	AttemptCount int    `json:"attemptCount"`
}
