package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
)

func TestListAttemptsNewestFirstWithSplit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(3)

	clock := fixedNow
	env.attempts.WithClock(func() time.Time { return clock })
	older := env.create(t, "u1", "q1")
	clock = clock.Add(time.Minute)
	newer := env.create(t, "u1", "q2", "q3")
	clock = clock.Add(time.Minute)
	if _, err := env.attempts.SubmitAnswers(ctx, "u1", older.ID, map[string]int{"q1": 0}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.create(t, "u2", "q1")

	list, err := env.history.ListAttempts(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest first for u1 only, got %+v", list)
	}
	if list[0].Course == nil || list[0].Course.Code != "CS101" {
		t.Fatalf("expected course joined, got %+v", list[0].Course)
	}
	if list[0].Lecture != nil {
		t.Fatalf("expected nil lecture, got %+v", list[0].Lecture)
	}

	submitted, inProgress := domain.PartitionAttempts(list)
	if len(submitted) != 1 || submitted[0].ID != older.ID {
		t.Fatalf("unexpected submitted split %+v", submitted)
	}
	if len(inProgress) != 1 || inProgress[0].ID != newer.ID {
		t.Fatalf("unexpected in-progress split %+v", inProgress)
	}

	other := "c2"
	filtered, _ := env.history.ListAttempts(ctx, "u1", &other)
	if len(filtered) != 0 {
		t.Fatalf("expected course filter to exclude everything, got %d", len(filtered))
	}
}

func TestListAttemptsNormalizesCollections(t *testing.T) {
	started := fixedNow
	store := &rowStore{rows: []domain.AttemptRow{{
		Attempt: domain.Attempt{ID: "a1", UserID: "u1", CourseID: "c1", StartedAt: started},
		Course:  json.RawMessage(`[{"id":"c1","code":"CS101","name":"Intro"}]`),
		Lecture: json.RawMessage(`[]`),
	}}}

	list, err := app.NewHistoryService(store).ListAttempts(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].Course == nil || list[0].Course.ID != "c1" {
		t.Fatalf("expected unwrapped course, got %+v", list[0].Course)
	}
	if list[0].Lecture != nil {
		t.Fatalf("expected nil lecture, got %+v", list[0].Lecture)
	}
}

func TestCourseStatsAggregatesAndCaches(t *testing.T) {
	ctx := context.Background()
	at := func(h int) *time.Time {
		ts := fixedNow.Add(time.Duration(h) * time.Hour)
		return &ts
	}
	store := &rowStore{rows: []domain.AttemptRow{
		{Attempt: domain.Attempt{ID: "a3", UserID: "u1", CourseID: "c1", CorrectCount: 7, TotalQuestions: 10, SubmittedAt: at(3)}},
		{Attempt: domain.Attempt{ID: "a2", UserID: "u1", CourseID: "c1", CorrectCount: 9, TotalQuestions: 10, SubmittedAt: at(2)}},
		{Attempt: domain.Attempt{ID: "a1", UserID: "u1", CourseID: "c1", CorrectCount: 8, TotalQuestions: 10, SubmittedAt: at(1)}},
	}}
	cache := newMapCache()
	history := app.NewHistoryService(store).WithStatsCache(cache)

	stats, err := history.CourseStats(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.CourseStats{CourseID: "c1", LastScore: 70, LastLabel: "7/10", BestScore: 90, AverageScore: 80, AttemptCount: 3}
	if len(stats) != 1 || stats[0] != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
	if !store.lastFilter.SubmittedOnly {
		t.Fatalf("stats must only read submitted attempts")
	}

	store.rows = nil
	cached, _ := history.CourseStats(ctx, "u1", nil)
	if len(cached) != 1 {
		t.Fatalf("expected cached stats, got %+v", cached)
	}
}

func TestCourseStatsIgnoresCacheFailures(t *testing.T) {
	store := &rowStore{}
	cache := newMapCache()
	cache.err = errors.New("redis down")
	history := app.NewHistoryService(store).WithStatsCache(cache)

	stats, err := history.CourseStats(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("cache failure must not fail stats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestSubmitInvalidatesStatsCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(1)
	cache := newMapCache()
	env.attempts.WithStatsCache(cache)
	_ = cache.Set(ctx, "u1", "*", "0", []domain.CourseStats{{CourseID: "c1"}})

	attempt := env.create(t, "u1", "q1")
	if _, err := env.attempts.SubmitAnswers(ctx, "u1", attempt.ID, map[string]int{"q1": 0}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, ok, _ := cache.Get(ctx, "u1", "*"); ok {
		t.Fatalf("expected cache invalidated")
	}
}

func TestCourseStatsDoesNotCacheResultOverlappingSubmission(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(2)
	cache := newMapCache()
	env.attempts.WithStatsCache(cache)
	racing := &racingStore{AttemptStore: env.store}
	history := app.NewHistoryService(racing).WithStatsCache(cache)

	attempt := env.create(t, "u1", "q1", "q2")
	racing.afterStatsRead = func() {
		if _, err := env.attempts.SubmitAnswers(ctx, "u1", attempt.ID, map[string]int{"q1": 0, "q2": 0}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	before, err := history.CourseStats(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("expected rows read before the submission, got %+v", before)
	}

	after, err := history.CourseStats(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(after) != 1 || after[0].LastLabel != "2/2" || after[0].LastScore != 100 {
		t.Fatalf("expected submitted attempt in stats, got %+v", after)
	}
}

func TestCourseStatsScopesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	submitted := fixedNow
	store := &rowStore{rows: []domain.AttemptRow{
		{Attempt: domain.Attempt{ID: "a1", UserID: "u1", CourseID: "all", CorrectCount: 1, TotalQuestions: 2, SubmittedAt: &submitted}},
		{Attempt: domain.Attempt{ID: "a2", UserID: "u1", CourseID: "c1", CorrectCount: 2, TotalQuestions: 2, SubmittedAt: &submitted}},
	}}
	history := app.NewHistoryService(store).WithStatsCache(newMapCache())

	everything, err := history.CourseStats(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(everything) != 2 {
		t.Fatalf("expected both courses, got %+v", everything)
	}

	course := "all"
	scoped, err := history.CourseStats(ctx, "u1", &course)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(scoped) != 1 || scoped[0].CourseID != "all" {
		t.Fatalf("expected only course all, got %+v", scoped)
	}
}

func TestHistoryRequiresUser(t *testing.T) {
	history := app.NewHistoryService(&rowStore{})
	if _, err := history.ListAttempts(context.Background(), "", nil); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

// rowStore serves canned history rows.
type rowStore struct {
	app.AttemptStore
	rows       []domain.AttemptRow
	lastFilter domain.AttemptFilter
}

func (s *rowStore) ListAttempts(_ context.Context, filter domain.AttemptFilter) ([]domain.AttemptRow, error) {
	s.lastFilter = filter
	if filter.CourseID == nil {
		return s.rows, nil
	}
	var out []domain.AttemptRow
	for _, row := range s.rows {
		if row.CourseID == *filter.CourseID {
			out = append(out, row)
		}
	}
	return out, nil
}

// racingStore runs afterStatsRead once, between reading stats rows and returning them.
type racingStore struct {
	app.AttemptStore
	afterStatsRead func()
}

func (s *racingStore) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.AttemptRow, error) {
	rows, err := s.AttemptStore.ListAttempts(ctx, filter)
	if filter.SubmittedOnly && s.afterStatsRead != nil {
		hook := s.afterStatsRead
		s.afterStatsRead = nil
		hook()
	}
	return rows, err
}

type mapCache struct {
	err      error
	stats    map[string][]domain.CourseStats
	versions map[string]int
}

func newMapCache() *mapCache {
	return &mapCache{stats: make(map[string][]domain.CourseStats), versions: make(map[string]int)}
}

func (c *mapCache) Get(_ context.Context, userID, scope string) ([]domain.CourseStats, string, bool, error) {
	if c.err != nil {
		return nil, "", false, c.err
	}
	stats, ok := c.stats[userID+"/"+scope]
	return stats, strconv.Itoa(c.versions[userID]), ok, nil
}

func (c *mapCache) Set(_ context.Context, userID, scope, version string, stats []domain.CourseStats) error {
	if c.err != nil {
		return c.err
	}
	if version != strconv.Itoa(c.versions[userID]) {
		return nil
	}
	c.stats[userID+"/"+scope] = stats
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	c.versions[userID]++
	for key := range c.stats {
		if len(key) > len(userID) && key[:len(userID)+1] == userID+"/" {
			delete(c.stats, key)
		}
	}
	return nil
}
