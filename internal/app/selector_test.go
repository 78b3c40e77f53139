package app_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/domain"
	"mcq-attempt-service/internal/infra/memory"
)

func TestSelectionBound(t *testing.T) {
	ctx := context.Background()
	for _, pool := range []int{1, 7, 50, 120} {
		bank := memory.NewBankRepository(testCatalog(pool), time.Minute)
		selector := app.NewQuestionSelector(bank, app.SeededShuffler(1), app.DefaultQuestionCount)
		for count := 1; count <= 100; count++ {
			sel, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", Count: count})
			if err != nil {
				t.Fatalf("pool %d count %d: %v", pool, count, err)
			}
			if want := min(count, pool); len(sel.QuestionIDs) != want {
				t.Fatalf("pool %d count %d: expected %d ids, got %d", pool, count, want, len(sel.QuestionIDs))
			}
			if sel.Short() != (pool < count) {
				t.Fatalf("pool %d count %d: short=%v", pool, count, sel.Short())
			}
			if sel.Available != pool {
				t.Fatalf("expected available %d, got %d", pool, sel.Available)
			}
		}
	}
}

func TestSelectionClampsCount(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewBankRepository(testCatalog(150), time.Minute)
	selector := app.NewQuestionSelector(bank, app.SeededShuffler(1), app.DefaultQuestionCount)

	cases := map[int]int{0: app.DefaultQuestionCount, -3: app.DefaultQuestionCount, 500: 100, 1: 1}
	for count, want := range cases {
		sel, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", Count: count})
		if err != nil {
			t.Fatalf("count %d: %v", count, err)
		}
		if len(sel.QuestionIDs) != want || sel.Requested != want {
			t.Fatalf("count %d: expected %d, got %d (requested %d)", count, want, len(sel.QuestionIDs), sel.Requested)
		}
	}
}

func TestSelectionNoEligibleQuestions(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalog([]domain.Course{{ID: "empty", Code: "X", Name: "Empty"}}, nil, nil)
	selector := app.NewQuestionSelector(memory.NewBankRepository(catalog, time.Minute), nil, 0)

	_, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "empty", Count: 5})
	if !errors.Is(err, domain.ErrNoEligibleQuestions) {
		t.Fatalf("expected no eligible questions, got %v", err)
	}
	_, err = selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "nope", Count: 5})
	if !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected course not found, got %v", err)
	}
}

func TestSelectionIncludesCourseWideQuestionsForLecture(t *testing.T) {
	ctx := context.Background()
	l1, l2 := "L1", "L2"
	catalog := memory.NewCatalog(
		[]domain.Course{{ID: "c1", Code: "CS101", Name: "Intro"}},
		[]domain.Lecture{{ID: l1, CourseID: "c1", Title: "One"}, {ID: l2, CourseID: "c1", Title: "Two", OrderIndex: 1}},
		[]domain.Question{
			{ID: "q1", CourseID: "c1", LectureID: &l1, Choices: []string{"a", "b"}},
			{ID: "q2", CourseID: "c1", Choices: []string{"a", "b"}},
			{ID: "q3", CourseID: "c1", LectureID: &l2, Choices: []string{"a", "b"}},
		},
	)
	selector := app.NewQuestionSelector(memory.NewBankRepository(catalog, time.Minute), app.SeededShuffler(7), 0)

	sel, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", LectureID: &l1, Count: 10})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := append([]string(nil), sel.QuestionIDs...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"q1", "q2"}) {
		t.Fatalf("expected q1 and q2, got %v", got)
	}
}

func TestSelectionRejectsUnknownLecture(t *testing.T) {
	ctx := context.Background()
	selector := app.NewQuestionSelector(memory.NewBankRepository(testCatalog(3), time.Minute), app.SeededShuffler(1), 0)

	for _, lecture := range []string{"no-such-lecture", "c2-l1"} {
		lecture := lecture
		_, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", LectureID: &lecture, Count: 5})
		if !errors.Is(err, domain.ErrLectureNotFound) {
			t.Fatalf("lecture %s: expected lecture not found, got %v", lecture, err)
		}
	}

	known := "c1-l1"
	if _, err := selector.SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", LectureID: &known, Count: 5}); err != nil {
		t.Fatalf("known lecture: %v", err)
	}
}

func TestSelectionIsReproducibleWithSeed(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewBankRepository(testCatalog(30), time.Minute)

	a, _ := app.NewQuestionSelector(bank, app.SeededShuffler(99), 0).SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", Count: 10})
	b, _ := app.NewQuestionSelector(bank, app.SeededShuffler(99), 0).SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", Count: 10})
	if !reflect.DeepEqual(a.QuestionIDs, b.QuestionIDs) {
		t.Fatalf("same seed produced %v and %v", a.QuestionIDs, b.QuestionIDs)
	}

	identity := app.ShuffleFunc(func(int, func(i, j int)) {})
	c, _ := app.NewQuestionSelector(bank, identity, 0).SelectQuestions(ctx, app.SelectionRequest{CourseID: "c1", Count: 3})
	// bank order is sorted by question ID
	if !reflect.DeepEqual(c.QuestionIDs, []string{"q1", "q10", "q11"}) {
		t.Fatalf("identity shuffle should keep bank order, got %v", c.QuestionIDs)
	}
}
