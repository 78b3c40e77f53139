package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		correct, total, want int
	}{
		{3, 7, 43},
		{1, 8, 13}, // 12.5 rounds away from zero
		{1, 3, 33},
		{2, 3, 67},
		{0, 5, 0},
		{5, 5, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.correct, tt.total), "%d/%d", tt.correct, tt.total)
	}
}

func TestPercentMatchesRoundingForAllSmallTotals(t *testing.T) {
	for total := 1; total <= 100; total++ {
		for correct := 0; correct <= total; correct++ {
			// exact rational comparison: p is the rounded value iff |100c/t - p| <= 1/2, ties upward
			p := Percent(correct, total)
			diff := 200*correct - 2*p*total
			require.True(t, diff < total && diff >= -total, "%d/%d -> %d", correct, total, p)
		}
	}
}

func TestNormalizeRelation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *CourseRef
		err  error
	}{
		{name: "object", raw: `{"id":"c1","code":"CS101","name":"Intro"}`, want: &CourseRef{ID: "c1", Code: "CS101", Name: "Intro"}},
		{name: "one element array", raw: `[{"id":"c1","code":"CS101","name":"Intro"}]`, want: &CourseRef{ID: "c1", Code: "CS101", Name: "Intro"}},
		{name: "empty array", raw: `[]`},
		{name: "null", raw: `null`},
		{name: "absent", raw: ``},
		{name: "two elements", raw: `[{"id":"c1"},{"id":"c2"}]`, err: ErrAmbiguousRelation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRelation[CourseRef](json.RawMessage(tt.raw))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeUnwrapsCourseCollection(t *testing.T) {
	row := AttemptRow{
		Attempt: Attempt{ID: "a1", CourseID: "c1"},
		Course:  json.RawMessage(`[{"id":"c1","code":"CS101","name":"Intro"}]`),
		Lecture: json.RawMessage(`[]`),
	}
	summary, err := Summarize(row)
	require.NoError(t, err)
	require.NotNil(t, summary.Course)
	assert.Equal(t, "CS101", summary.Course.Code)
	assert.Nil(t, summary.Lecture)
}

func TestAggregateCourseStats(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time {
		ts := base.Add(time.Duration(h) * time.Hour)
		return &ts
	}
	list := []AttemptSummary{
		{Attempt: Attempt{ID: "a3", CourseID: "c1", CorrectCount: 7, TotalQuestions: 10, SubmittedAt: at(3)}},
		{Attempt: Attempt{ID: "a2", CourseID: "c1", CorrectCount: 9, TotalQuestions: 10, SubmittedAt: at(2)}},
		{Attempt: Attempt{ID: "a1", CourseID: "c1", CorrectCount: 8, TotalQuestions: 10, SubmittedAt: at(1)}},
		{Attempt: Attempt{ID: "open", CourseID: "c1", TotalQuestions: 10}},
	}

	stats := AggregateCourseStats(list)
	require.Len(t, stats, 1)
	assert.Equal(t, CourseStats{
		CourseID:     "c1",
		LastScore:    70,
		LastLabel:    "7/10",
		BestScore:    90,
		AverageScore: 80,
		AttemptCount: 3,
	}, stats[0])
}

func TestPartitionAttempts(t *testing.T) {
	now := time.Now()
	list := []AttemptSummary{
		{Attempt: Attempt{ID: "a", SubmittedAt: &now}},
		{Attempt: Attempt{ID: "b"}},
		{Attempt: Attempt{ID: "c", SubmittedAt: &now}},
	}
	submitted, inProgress := PartitionAttempts(list)
	require.Len(t, submitted, 2)
	require.Len(t, inProgress, 1)
	assert.Equal(t, "a", submitted[0].ID)
	assert.Equal(t, "c", submitted[1].ID)
	assert.Equal(t, "b", inProgress[0].ID)
}

func TestEligibleForIncludesCourseWideQuestions(t *testing.T) {
	l1, l2 := "L1", "L2"
	questions := []Question{
		{ID: "q1", LectureID: &l1},
		{ID: "q2"},
		{ID: "q3", LectureID: &l2},
	}
	var got []string
	for _, q := range questions {
		if q.EligibleFor(&l1) {
			got = append(got, q.ID)
		}
	}
	assert.Equal(t, []string{"q1", "q2"}, got)
}

func TestBankCheckLecture(t *testing.T) {
	bank := QuestionBank{
		CourseID: "c1",
		Lectures: []Lecture{{ID: "L1", CourseID: "c1"}, {ID: "X1", CourseID: "c2"}},
	}
	known, foreign, bogus := "L1", "X1", "no-such-lecture"
	assert.NoError(t, bank.CheckLecture(nil))
	assert.NoError(t, bank.CheckLecture(&known))
	assert.ErrorIs(t, bank.CheckLecture(&foreign), ErrLectureNotFound)
	assert.ErrorIs(t, bank.CheckLecture(&bogus), ErrLectureNotFound)
}

func TestSortQuestionsUsesByteOrder(t *testing.T) {
	questions := []Question{{ID: "a2"}, {ID: "q10"}, {ID: "B1"}, {ID: "q1"}}
	SortQuestions(questions)
	var got []string
	for _, q := range questions {
		got = append(got, q.ID)
	}
	assert.Equal(t, []string{"B1", "a2", "q1", "q10"}, got)
}

func TestTypedErrorsUnwrap(t *testing.T) {
	var err error = &IncompleteSubmissionError{Missing: 2}
	assert.True(t, errors.Is(err, ErrIncompleteSubmission))

	cause := errors.New("insert failed")
	err = &PartialCreationError{AttemptID: "a1", Discarded: true, Err: cause}
	assert.True(t, errors.Is(err, ErrPartialCreation))
	assert.True(t, errors.Is(err, cause))
}
