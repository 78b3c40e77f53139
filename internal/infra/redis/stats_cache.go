package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mcq-attempt-service/internal/domain"
)

// versionField holds the token Invalidate rotates. Scopes never start with '_'.
const versionField = "_version"

var errStaleVersion = errors.New("stats invalidated since read")

// StatsCache keeps per-user course statistics in one hash per user,
// one field per scope, so a submission can drop them all at once.
//
//	HSET mcq:stats:{userID} {scope} {stats JSON} _version {token}
//
// Set only writes while _version still matches the token Get returned, so a
// result computed before a submission cannot land after its invalidation.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

func (c *StatsCache) Get(ctx context.Context, userID, scope string) ([]domain.CourseStats, string, bool, error) {
	vals, err := c.client.HMGet(ctx, statsKey(userID), scope, versionField).Result()
	if err != nil {
		return nil, "", false, fmt.Errorf("read stats: %w", err)
	}
	version, _ := vals[1].(string)
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, false, nil
	}
	var stats []domain.CourseStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, version, false, fmt.Errorf("decode stats: %w", err)
	}
	return stats, version, true, nil
}

func (c *StatsCache) Set(ctx context.Context, userID, scope, version string, stats []domain.CourseStats) error {
	if stats == nil {
		stats = []domain.CourseStats{}
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	key := statsKey(userID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, versionField).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, scope, data)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
		return nil
	case err != nil:
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

// Invalidate drops every cached scope and rotates the version token.
func (c *StatsCache) Invalidate(ctx context.Context, userID string) error {
	key := statsKey(userID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, versionField, uuid.NewString())
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate stats: %w", err)
	}
	return nil
}

func statsKey(userID string) string {
	return "mcq:stats:" + userID
}
