package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
)

// AttemptHandler exposes the attempt lifecycle and history over REST.
type AttemptHandler struct {
	attempts *app.AttemptService
	history  *app.HistoryService
}

func NewAttemptHandler(attempts *app.AttemptService, history *app.HistoryService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, history: history}
}

// Routes mounts the handler under an authenticated router.
func (h *AttemptHandler) Routes(r chi.Router) {
	r.Route("/attempts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{attemptID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/check", h.Check)
			r.Post("/submit", h.Submit)
		})
	})
	r.Get("/stats", h.Stats)
}

// POST /api/attempts {courseId, lectureId?, mode, count}
func (h *AttemptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CourseID == "" {
		writeError(w, fmt.Errorf("%w: courseId is required", errBadRequest))
		return
	}

	userID := UserFromContext(r.Context())
	started, err := h.attempts.StartAttempt(r.Context(), userID, app.StartRequest{
		CourseID:  req.CourseID,
		LectureID: req.LectureID,
		Mode:      domain.Mode(req.Mode),
		Count:     req.Count,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	paper, err := h.attempts.GetPaper(r.Context(), userID, started.Attempt.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createAttemptResponse{
		Attempt:   started.Attempt,
		Questions: newPaperView(paper).Questions,
		Requested: started.Selection.Requested,
		Available: started.Selection.Available,
		Short:     started.Selection.Short(),
	})
}

// GET /api/attempts?course=
func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.history.ListAttempts(r.Context(), UserFromContext(r.Context()), courseFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	submitted, inProgress := domain.PartitionAttempts(list)
	writeJSON(w, http.StatusOK, historyResponse{
		Submitted:  nonNil(submitted),
		InProgress: nonNil(inProgress),
	})
}

// GET /api/attempts/{attemptID}
func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	paper, err := h.attempts.GetPaper(r.Context(), UserFromContext(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaperView(paper))
}

// POST /api/attempts/{attemptID}/check {questionId, selectedIndex}
func (h *AttemptHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fb, err := h.attempts.CheckAnswer(r.Context(), UserFromContext(r.Context()), chi.URLParam(r, "attemptID"), req.QuestionID, req.SelectedIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// POST /api/attempts/{attemptID}/submit {answers: {questionId: index}}
func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.attempts.SubmitAnswers(r.Context(), UserFromContext(r.Context()), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/stats?course= never fails the page; a broken store reports available=false.
func (h *AttemptHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	if userID == "" {
		writeError(w, domain.ErrUnauthenticated)
		return
	}
	stats, err := h.history.CourseStats(r.Context(), userID, courseFilter(r))
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("course stats unavailable")
		writeJSON(w, http.StatusOK, statsResponse{Available: false, Stats: []domain.CourseStats{}})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Available: true, Stats: nonNil(stats)})
}

func courseFilter(r *http.Request) *string {
	if c := r.URL.Query().Get("course"); c != "" {
		return &c
	}
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
