package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
)

// WSHandler runs one quiz-taking session per connection. Answers are held in
// memory until the client submits; nothing is persisted before that.
type WSHandler struct {
	attempts *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(attempts *app.AttemptService) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID    string `json:"questionId"`
	SelectedIndex int    `json:"selectedIndex"`
}

type progressPayload struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

func errorMessage(err error) outboundMessage[any] {
	_, body := errorBody(err)
	return outboundMessage[any]{Type: "error", Payload: body}
}

// ServeWS upgrades GET /ws?attemptId= and drives the attempt over the socket.
//
// Client messages: answer {questionId, selectedIndex}, submit {}.
// Server messages: paper, feedback (practice only), progress, result, error.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	userID := UserFromContext(r.Context())
	if attemptID == "" {
		writeError(w, fmt.Errorf("%w: missing attemptId", errBadRequest))
		return
	}

	// Resolve before upgrading so ownership failures get a proper status code.
	paper, err := h.attempts.GetPaper(r.Context(), userID, attemptID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	h.serve(r.Context(), conn, userID, paper)
}

// wsConn is the part of *websocket.Conn a session uses.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

func (h *WSHandler) serve(ctx context.Context, conn wsConn, userID string, paper app.Paper) {
	attemptID := paper.Attempt.ID
	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("attemptId", attemptID).Msg("ws write error")
				// unblocks the read loop
				_ = conn.Close()
				return
			}
		}
	}()
	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	session := newQuizSession(paper)
	push(outboundMessage[any]{Type: "paper", Payload: newPaperView(paper)})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorMessage(fmt.Errorf("%w: invalid answer payload", errBadRequest)))
				continue
			}
			if err := session.record(payload.QuestionID, payload.SelectedIndex); err != nil {
				push(errorMessage(err))
				continue
			}
			if session.mode == domain.ModePractice {
				fb, err := h.attempts.CheckAnswer(ctx, userID, attemptID, payload.QuestionID, payload.SelectedIndex)
				if err != nil {
					push(errorMessage(err))
					continue
				}
				push(outboundMessage[any]{Type: "feedback", Payload: fb})
			}
			push(outboundMessage[any]{Type: "progress", Payload: session.progress()})
		case "submit":
			res, err := h.attempts.SubmitAnswers(ctx, userID, attemptID, session.snapshot())
			if err != nil {
				// answers stay in the session so the client can fix and retry
				push(errorMessage(err))
				continue
			}
			push(outboundMessage[any]{Type: "result", Payload: res})
			if final, err := h.attempts.GetPaper(ctx, userID, attemptID); err == nil {
				push(outboundMessage[any]{Type: "paper", Payload: newPaperView(final)})
			}
		default:
			push(errorMessage(fmt.Errorf("%w: unsupported message type %q", errBadRequest, inbound.Type)))
		}
	}

	close(send)
	<-writerDone
}

// quizSession is the per-connection answer buffer. Only the read loop touches it.
type quizSession struct {
	mode      domain.Mode
	questions map[string]domain.Question
	total     int
	answers   map[string]int
}

func newQuizSession(paper app.Paper) *quizSession {
	s := &quizSession{
		mode:      paper.Attempt.Mode,
		questions: make(map[string]domain.Question, len(paper.Questions)),
		total:     len(paper.Questions),
		answers:   make(map[string]int, len(paper.Questions)),
	}
	for _, pq := range paper.Questions {
		s.questions[pq.Question.ID] = pq.Question
	}
	for _, a := range paper.Answers {
		s.answers[a.QuestionID] = a.SelectedIndex
	}
	return s
}

func (s *quizSession) record(questionID string, selected int) error {
	q, ok := s.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotInAttempt, questionID)
	}
	if !q.ValidChoice(selected) {
		return fmt.Errorf("%w: question %s index %d", domain.ErrChoiceOutOfRange, questionID, selected)
	}
	s.answers[questionID] = selected
	return nil
}

func (s *quizSession) progress() progressPayload {
	return progressPayload{Answered: len(s.answers), Total: s.total}
}

func (s *quizSession) snapshot() map[string]int {
	out := make(map[string]int, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}
