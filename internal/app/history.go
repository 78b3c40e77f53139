package app

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"mcq-attempt-service/internal/domain"
)

const (
	HistoryLimit = 200
	StatsLimit   = 400
)

// HistoryService lists a user's attempts and summarizes their results.
type HistoryService struct {
	store AttemptStore
	cache StatsCache
}

func NewHistoryService(store AttemptStore) *HistoryService {
	return &HistoryService{store: store}
}

// WithStatsCache enables read-through caching of CourseStats.
func (h *HistoryService) WithStatsCache(cache StatsCache) *HistoryService {
	h.cache = cache
	return h
}

// ListAttempts returns the user's attempts, most recently started first,
// with course and lecture resolved to a single value or nil.
func (h *HistoryService) ListAttempts(ctx context.Context, userID string, courseID *string) ([]domain.AttemptSummary, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	rows, err := h.store.ListAttempts(ctx, domain.AttemptFilter{
		UserID:   userID,
		CourseID: courseID,
		Limit:    HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.AttemptSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := domain.Summarize(row)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// CourseStats aggregates submitted attempts per course. Callers treat errors as
// "no summary available" rather than failing the surrounding view.
func (h *HistoryService) CourseStats(ctx context.Context, userID string, courseID *string) ([]domain.CourseStats, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	scope := statsScope(courseID)

	var (
		version   string
		cacheable bool
	)
	if h.cache != nil {
		stats, v, ok, err := h.cache.Get(ctx, userID, scope)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("userId", userID).Msg("stats cache read failed")
		case ok:
			return stats, nil
		default:
			version, cacheable = v, true
		}
	}

	rows, err := h.store.ListAttempts(ctx, domain.AttemptFilter{
		UserID:        userID,
		CourseID:      courseID,
		SubmittedOnly: true,
		Limit:         StatsLimit,
	})
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.AttemptSummary, len(rows))
	for i, row := range rows {
		summaries[i] = domain.AttemptSummary{Attempt: row.Attempt}
	}
	stats := domain.AggregateCourseStats(summaries)

	if cacheable {
		if err := h.cache.Set(ctx, userID, scope, version, stats); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("stats cache write failed")
		}
	}
	return stats, nil
}

// statsScope names the cache field for a course filter; "*" never collides with a "course:" field.
func statsScope(courseID *string) string {
	if courseID == nil {
		return "*"
	}
	return "course:" + *courseID
}
