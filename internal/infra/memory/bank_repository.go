package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mcq-attempt-service/internal/domain"
)

// BankLoader fetches a course's question bank from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadBank(ctx context.Context, courseID string) (domain.QuestionBank, error)
}

// BankRepository caches question banks with TTL to avoid repeated DB hits.
type BankRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	bank      domain.QuestionBank
	expiresAt time.Time
}

func NewBankRepository(loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, courseID string) (domain.QuestionBank, error) {
	if bank, ok := r.cached(courseID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(courseID, func() (interface{}, error) {
		if bank, ok := r.cached(courseID); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, courseID)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		r.mu.Lock()
		r.cache[courseID] = cachedBank{
			bank:      bank,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *BankRepository) cached(courseID string) (domain.QuestionBank, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[courseID]; ok && entry.expiresAt.After(now) {
		return entry.bank, true
	}
	return domain.QuestionBank{}, false
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// Catalog is a static course catalog and question bank (useful for tests/demos).
type Catalog struct {
	courses   map[string]domain.Course
	lectures  map[string]domain.Lecture
	questions map[string][]domain.Question
}

func NewCatalog(courses []domain.Course, lectures []domain.Lecture, questions []domain.Question) *Catalog {
	c := &Catalog{
		courses:   make(map[string]domain.Course, len(courses)),
		lectures:  make(map[string]domain.Lecture, len(lectures)),
		questions: make(map[string][]domain.Question),
	}
	for _, course := range courses {
		c.courses[course.ID] = course
	}
	for _, lecture := range lectures {
		c.lectures[lecture.ID] = lecture
	}
	for _, q := range questions {
		c.questions[q.CourseID] = append(c.questions[q.CourseID], q)
	}
	for _, list := range c.questions {
		domain.SortQuestions(list)
	}
	return c
}

func (c *Catalog) LoadBank(_ context.Context, courseID string) (domain.QuestionBank, error) {
	if _, ok := c.courses[courseID]; !ok {
		return domain.QuestionBank{}, domain.ErrCourseNotFound
	}
	var lectures []domain.Lecture
	for _, lecture := range c.lectures {
		if lecture.CourseID == courseID {
			lectures = append(lectures, lecture)
		}
	}
	domain.SortLectures(lectures)
	questions := append([]domain.Question(nil), c.questions[courseID]...)
	return domain.QuestionBank{CourseID: courseID, Lectures: lectures, Questions: questions}, nil
}

func (c *Catalog) Course(id string) (domain.Course, bool) {
	course, ok := c.courses[id]
	return course, ok
}

func (c *Catalog) Lecture(id string) (domain.Lecture, bool) {
	lecture, ok := c.lectures[id]
	return lecture, ok
}
