// Package cache holds the Redis-backed exam content cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultPayloadTTL bounds how long a cached question list may outlive its exam.
const DefaultPayloadTTL = 6 * time.Hour

// PayloadCache stores the answer-free question list of an exam under
// exam:<id>:payload. Cache failures are logged and treated as misses.
type PayloadCache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewPayloadCache creates a new PayloadCache.
func NewPayloadCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *PayloadCache {
	if ttl <= 0 {
		ttl = DefaultPayloadTTL
	}
	return &PayloadCache{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "payload_cache").Logger(),
	}
}

func (c *PayloadCache) GetQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionForStudent, bool) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to read cached payload")
		}
		return nil, false
	}

	var questions []model.QuestionForStudent
	if err := json.Unmarshal(data, &questions); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Discarding malformed cached payload")
		c.Invalidate(ctx, examID)
		return nil, false
	}
	return questions, true
}

func (c *PayloadCache) SetQuestions(ctx context.Context, examID uuid.UUID, questions []model.QuestionForStudent) {
	data, err := json.Marshal(questions)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to marshal payload")
		return
	}
	if err := c.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(examID.String()), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache payload")
		return
	}
	c.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
}

func (c *PayloadCache) Invalidate(ctx context.Context, examID uuid.UUID) {
	if err := c.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Err(); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to invalidate payload")
	}
}
