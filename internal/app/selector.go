package app

import (
	"context"
	"math/rand"

	"mcq-attempt-service/internal/domain"
)

const (
	MinQuestionCount     = 1
	MaxQuestionCount     = 100
	DefaultQuestionCount = 10
)

// Shuffler permutes n elements through swap, matching rand.Shuffle.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// ShuffleFunc adapts a plain function to Shuffler.
type ShuffleFunc func(n int, swap func(i, j int))

func (f ShuffleFunc) Shuffle(n int, swap func(i, j int)) { f(n, swap) }

// RandomShuffler uses the process-wide math/rand source, which is safe for concurrent use.
func RandomShuffler() Shuffler { return ShuffleFunc(rand.Shuffle) }

// SeededShuffler is deterministic for a given seed. Not safe for concurrent use.
func SeededShuffler(seed int64) Shuffler { return rand.New(rand.NewSource(seed)) }

// SelectionRequest scopes a draw. Count <= 0 falls back to the selector default.
type SelectionRequest struct {
	CourseID  string
	LectureID *string
	Count     int
}

// Selection is the drawn paper plus what was asked for.
type Selection struct {
	QuestionIDs []string `json:"questionIds"`
	Requested   int      `json:"requested"`
	Available   int      `json:"available"`
}

// Short reports whether fewer questions were available than requested.
func (s Selection) Short() bool {
	return len(s.QuestionIDs) < s.Requested
}

// QuestionSelector draws randomized, size-bounded question sets.
type QuestionSelector struct {
	questions    QuestionRepository
	shuffler     Shuffler
	defaultCount int
}

func NewQuestionSelector(questions QuestionRepository, shuffler Shuffler, defaultCount int) *QuestionSelector {
	if shuffler == nil {
		shuffler = RandomShuffler()
	}
	return &QuestionSelector{
		questions:    questions,
		shuffler:     shuffler,
		defaultCount: ClampCount(defaultCount, DefaultQuestionCount),
	}
}

// ClampCount bounds a requested count to [MinQuestionCount, MaxQuestionCount],
// substituting fallback when the request is unset.
func ClampCount(count, fallback int) int {
	if count <= 0 {
		count = fallback
	}
	if count < MinQuestionCount {
		return MinQuestionCount
	}
	if count > MaxQuestionCount {
		return MaxQuestionCount
	}
	return count
}

// SelectQuestions draws min(count, eligible) question IDs in random order.
func (s *QuestionSelector) SelectQuestions(ctx context.Context, req SelectionRequest) (Selection, error) {
	want := ClampCount(req.Count, s.defaultCount)

	bank, err := s.questions.GetBank(ctx, req.CourseID)
	if err != nil {
		return Selection{}, err
	}
	if err := bank.CheckLecture(req.LectureID); err != nil {
		return Selection{}, err
	}

	ids := make([]string, 0, len(bank.Questions))
	for _, q := range bank.Questions {
		if q.CourseID == req.CourseID && q.EligibleFor(req.LectureID) {
			ids = append(ids, q.ID)
		}
	}
	if len(ids) == 0 {
		return Selection{}, domain.ErrNoEligibleQuestions
	}

	s.shuffler.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	n := min(want, len(ids))

	return Selection{
		QuestionIDs: ids[:n:n],
		Requested:   want,
		Available:   len(ids),
	}, nil
}
