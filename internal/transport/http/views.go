package http

import (
	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
)

// questionView hides the answer key until the attempt is submitted.
type questionView struct {
	OrderIndex   int      `json:"orderIndex"`
	ID           string   `json:"id"`
	LectureID    *string  `json:"lectureId,omitempty"`
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
	Explanation  *string  `json:"explanation,omitempty"`
}

type paperView struct {
	Attempt   domain.Attempt  `json:"attempt"`
	Questions []questionView  `json:"questions"`
	Answers   []domain.Answer `json:"answers"`
}

func newPaperView(p app.Paper) paperView {
	reveal := p.Attempt.Submitted()
	questions := make([]questionView, len(p.Questions))
	for i, pq := range p.Questions {
		q := pq.Question
		view := questionView{
			OrderIndex: pq.OrderIndex,
			ID:         q.ID,
			LectureID:  q.LectureID,
			Text:       q.Text,
			Choices:    q.Choices,
		}
		if reveal {
			correct := q.CorrectIndex
			view.CorrectIndex = &correct
			view.Explanation = q.Explanation
		}
		questions[i] = view
	}
	answers := p.Answers
	if answers == nil {
		answers = []domain.Answer{}
	}
	return paperView{Attempt: p.Attempt, Questions: questions, Answers: answers}
}

type createAttemptRequest struct {
	CourseID  string  `json:"courseId"`
	LectureID *string `json:"lectureId,omitempty"`
	Mode      string  `json:"mode"`
	Count     int     `json:"count"`
}

type createAttemptResponse struct {
	Attempt   domain.Attempt `json:"attempt"`
	Questions []questionView `json:"questions"`
	Requested int            `json:"requested"`
	Available int            `json:"available"`
	Short     bool           `json:"short"`
}

type historyResponse struct {
	Submitted  []domain.AttemptSummary `json:"submitted"`
	InProgress []domain.AttemptSummary `json:"inProgress"`
}

type checkRequest struct {
	QuestionID    string `json:"questionId"`
	SelectedIndex int    `json:"selectedIndex"`
}

type submitRequest struct {
	Answers map[string]int `json:"answers"`
}

type statsResponse struct {
	Available bool                 `json:"available"`
	Stats     []domain.CourseStats `json:"stats"`
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
