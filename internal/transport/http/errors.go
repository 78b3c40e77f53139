package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"mcq-attempt-service/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Missing int    `json:"missing,omitempty"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrFeedbackWithheld, http.StatusForbidden, "feedback_withheld"},
	{domain.ErrCourseNotFound, http.StatusNotFound, "course_not_found"},
	{domain.ErrLectureNotFound, http.StatusNotFound, "lecture_not_found"},
	{domain.ErrAttemptNotFound, http.StatusNotFound, "attempt_not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrAlreadySubmitted, http.StatusConflict, "already_submitted"},
	{domain.ErrIncompleteSubmission, http.StatusUnprocessableEntity, "incomplete_submission"},
	{domain.ErrNoEligibleQuestions, http.StatusUnprocessableEntity, "no_eligible_questions"},
	{domain.ErrInvalidMode, http.StatusUnprocessableEntity, "invalid_mode"},
	{domain.ErrEmptyQuestionSet, http.StatusUnprocessableEntity, "empty_question_set"},
	{domain.ErrDuplicateQuestion, http.StatusUnprocessableEntity, "duplicate_question"},
	{domain.ErrQuestionNotInCourse, http.StatusUnprocessableEntity, "question_not_in_course"},
	{domain.ErrQuestionNotInAttempt, http.StatusUnprocessableEntity, "question_not_in_attempt"},
	{domain.ErrChoiceOutOfRange, http.StatusUnprocessableEntity, "choice_out_of_range"},
	{domain.ErrPartialCreation, http.StatusInternalServerError, "partial_creation"},
}

var errBadRequest = errors.New("malformed request body")

// errorBody maps an error to its HTTP status and client-facing body.
func errorBody(err error) (int, errorResponse) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_request"}
	}
	for _, e := range errorTable {
		if !errors.Is(err, e.err) {
			continue
		}
		body := errorResponse{Error: err.Error(), Code: e.code}
		var incomplete *domain.IncompleteSubmissionError
		if errors.As(err, &incomplete) {
			body.Missing = incomplete.Missing
		}
		return e.status, body
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
