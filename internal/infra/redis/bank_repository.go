package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"mcq-attempt-service/internal/domain"
)

// BankLoader fetches a course's question bank from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadBank(ctx context.Context, courseID string) (domain.QuestionBank, error)
}

const (
	// loadedField marks a cached bank so an empty course is still a cache hit.
	loadedField   = "_loaded"
	lecturesField = "_lectures"
)

// BankRepository caches question banks in Redis (hash per course) and falls back to a loader on cache miss.
// Questions are stored as: HSET mcq:bank:{courseID} {questionID} {question JSON}
type BankRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBankRepository(client *redis.Client, loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, courseID string) (domain.QuestionBank, error) {
	if bank, ok := r.cached(ctx, courseID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(courseID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.cached(ctx, courseID); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, courseID)
		if err != nil {
			return domain.QuestionBank{}, err
		}
		r.store(ctx, bank)
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

// Evict drops a course's cached bank.
func (r *BankRepository) Evict(ctx context.Context, courseID string) error {
	return r.client.Del(ctx, bankKey(courseID)).Err()
}

func (r *BankRepository) cached(ctx context.Context, courseID string) (domain.QuestionBank, bool) {
	fields, err := r.client.HGetAll(ctx, bankKey(courseID)).Result()
	if err != nil {
		log.Warn().Err(err).Str("courseId", courseID).Msg("question bank cache read failed")
		return domain.QuestionBank{}, false
	}
	if _, ok := fields[loadedField]; !ok {
		return domain.QuestionBank{}, false
	}
	bank, err := bankFromCache(courseID, fields)
	if err != nil {
		log.Warn().Err(err).Str("courseId", courseID).Msg("question bank cache entry unreadable")
		return domain.QuestionBank{}, false
	}
	return bank, true
}

func (r *BankRepository) store(ctx context.Context, bank domain.QuestionBank) {
	key := bankKey(bank.CourseID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, q := range bank.Questions {
		data, err := json.Marshal(q)
		if err != nil {
			log.Warn().Err(err).Str("questionId", q.ID).Msg("question not cacheable")
			return
		}
		pipe.HSet(ctx, key, q.ID, data)
	}
	lectures, err := json.Marshal(bank.Lectures)
	if err != nil {
		log.Warn().Err(err).Str("courseId", bank.CourseID).Msg("lectures not cacheable")
		return
	}
	pipe.HSet(ctx, key, lecturesField, lectures)
	pipe.HSet(ctx, key, loadedField, "1")
	if ttl := r.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("courseId", bank.CourseID).Msg("question bank cache write failed")
	}
}

func bankKey(courseID string) string {
	return "mcq:bank:" + courseID
}

func bankFromCache(courseID string, fields map[string]string) (domain.QuestionBank, error) {
	bank := domain.QuestionBank{CourseID: courseID}
	raw, ok := fields[lecturesField]
	if !ok {
		return domain.QuestionBank{}, errors.New("lectures missing from cached bank")
	}
	if err := json.Unmarshal([]byte(raw), &bank.Lectures); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("decode lectures: %w", err)
	}

	questions := make([]domain.Question, 0, len(fields))
	for field, raw := range fields {
		if field == loadedField || field == lecturesField {
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("decode question %s: %w", field, err)
		}
		questions = append(questions, q)
	}
	// hash order is unspecified; restore the loader's ID order
	domain.SortQuestions(questions)
	bank.Questions = questions
	return bank, nil
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
