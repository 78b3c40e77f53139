package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Percent returns round(100*correct/total) with halves rounded away from zero.
// A zero total scores 0.
func Percent(correct, total int) int {
	if total <= 0 || correct <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}

func roundedMean(sum, n int) int {
	if n <= 0 {
		return 0
	}
	return (2*sum + n) / (2 * n)
}

// NormalizeRelation resolves a joined relation to exactly one value or nil,
// whatever cardinality the store declared for it.
func NormalizeRelation[T any](raw json.RawMessage) (*T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var many []T
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, fmt.Errorf("decode relation: %w", err)
		}
		switch len(many) {
		case 0:
			return nil, nil
		case 1:
			return &many[0], nil
		default:
			return nil, ErrAmbiguousRelation
		}
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode relation: %w", err)
	}
	return &one, nil
}

// Summarize normalizes a raw history row.
func Summarize(row AttemptRow) (AttemptSummary, error) {
	course, err := NormalizeRelation[CourseRef](row.Course)
	if err != nil {
		return AttemptSummary{}, fmt.Errorf("attempt %s course: %w", row.ID, err)
	}
	lecture, err := NormalizeRelation[LectureRef](row.Lecture)
	if err != nil {
		return AttemptSummary{}, fmt.Errorf("attempt %s lecture: %w", row.ID, err)
	}
	return AttemptSummary{Attempt: row.Attempt, Course: course, Lecture: lecture}, nil
}

// PartitionAttempts splits history into submitted and in-progress attempts, preserving order.
func PartitionAttempts(list []AttemptSummary) (submitted, inProgress []AttemptSummary) {
	submitted = make([]AttemptSummary, 0, len(list))
	inProgress = make([]AttemptSummary, 0)
	for _, a := range list {
		if a.Submitted() {
			submitted = append(submitted, a)
		} else {
			inProgress = append(inProgress, a)
		}
	}
	return submitted, inProgress
}

// AggregateCourseStats computes per-course last/best/average over submitted attempts.
// Results are ordered by course ID.
func AggregateCourseStats(list []AttemptSummary) []CourseStats {
	type acc struct {
		stats  CourseStats
		sum    int
		latest *Attempt
	}
	byCourse := make(map[string]*acc)
	for i := range list {
		a := list[i].Attempt
		if !a.Submitted() {
			continue
		}
		p := Percent(a.CorrectCount, a.TotalQuestions)
		entry, ok := byCourse[a.CourseID]
		if !ok {
			entry = &acc{stats: CourseStats{CourseID: a.CourseID, BestScore: p}}
			byCourse[a.CourseID] = entry
		}
		entry.stats.AttemptCount++
		entry.sum += p
		if p > entry.stats.BestScore {
			entry.stats.BestScore = p
		}
		if entry.latest == nil || a.SubmittedAt.After(*entry.latest.SubmittedAt) {
			latest := a
			entry.latest = &latest
			entry.stats.LastScore = p
			entry.stats.LastLabel = strconv.Itoa(a.CorrectCount) + "/" + strconv.Itoa(a.TotalQuestions)
		}
	}

	out := make([]CourseStats, 0, len(byCourse))
	for _, entry := range byCourse {
		entry.stats.AverageScore = roundedMean(entry.sum, entry.stats.AttemptCount)
		out = append(out, entry.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out
}
