package conflicts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedSource keeps per-studio, per-day lookups in Redis.
// Writers must call Invalidate after changing a studio's reservations.
type CachedSource struct {
	next   Source
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewCachedSource wraps next. A nil client or non-positive ttl disables caching.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *CachedSource {
	return &CachedSource{next: next, redis: client, ttl: ttl, logger: logger}
}

func cacheKey(studioID int64, dayStart, dayEnd time.Time) string {
	return fmt.Sprintf("conflicts:%d:%d:%d", studioID, dayStart.Unix(), dayEnd.Unix())
}

func studioDayPattern(studioID int64) string {
	return fmt.Sprintf("conflicts:%d:*", studioID)
}

func (c *CachedSource) FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error) {
	key := cacheKey(studioID, dayStart, dayEnd)
	var cached []Reservation
	if c.readCache(ctx, key, &cached) {
		return cached, nil
	}

	res, err := c.next.FindOverlappingReservations(ctx, studioID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, res)
	return res, nil
}

// Invalidate drops all cached lookups for a studio.
func (c *CachedSource) Invalidate(ctx context.Context, studioID int64) {
	if !c.enabled() {
		return
	}
	iter := c.redis.Scan(ctx, 0, studioDayPattern(studioID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Int64("studio_id", studioID).Msg("conflict cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("studio_id", studioID).Msg("conflict cache invalidate failed")
	}
}

func (c *CachedSource) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *CachedSource) readCache(ctx context.Context, key string, out any) bool {
	if !c.enabled() {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *CachedSource) writeCache(ctx context.Context, key string, val any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("conflict cache write failed")
	}
}
