// Package cache is the volatile fast path of the idempotency check. It is
// advisory only: a hit lets us skip the durable ledger lookup, but a miss
// or a Redis outage always falls through to the database. Correctness is
// never established here.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thaian1234/sync-service/internal/domain"
)

const processedKeyPrefix = "processed:event:"

// TTLs keyed by event type. Deletes and snapshots are cached longer because
// their redeliveries cluster at connector restarts.
var ttlByEventType = map[domain.EventType]time.Duration{
	domain.EventCreated:  600 * time.Second,
	domain.EventUpdated:  300 * time.Second,
	domain.EventDeleted:  900 * time.Second,
	domain.EventSnapshot: 1800 * time.Second,
}

const defaultTTL = 300 * time.Second

// IdempotencyCache fronts the processed-events ledger with Redis.
type IdempotencyCache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewIdempotencyCache(client *redis.Client, logger *slog.Logger) *IdempotencyCache {
	return &IdempotencyCache{client: client, logger: logger}
}

func eventKey(eventID string) string {
	return processedKeyPrefix + eventID
}

// IsProcessed reports whether the event id is cached as already applied.
// Any Redis failure is logged and reported as a miss so the caller falls
// through to the ledger.
func (c *IdempotencyCache) IsProcessed(ctx context.Context, eventID string) bool {
	n, err := c.client.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		c.logger.Warn("cache lookup failed, falling through to ledger",
			"event_id", eventID,
			"error", err,
		)
		return false
	}
	return n > 0
}

// MarkProcessed caches the event id with the TTL for its event type. Called
// only after the apply transaction has committed; failures are logged and
// swallowed since the ledger already holds the truth.
func (c *IdempotencyCache) MarkProcessed(ctx context.Context, eventID string, eventType domain.EventType) {
	ttl, ok := ttlByEventType[eventType]
	if !ok {
		ttl = defaultTTL
	}

	if err := c.client.Set(ctx, eventKey(eventID), 1, ttl).Err(); err != nil {
		c.logger.Warn("failed to cache processed event",
			"event_id", eventID,
			"error", err,
		)
	}
}

// Remove evicts a cached event id. Used by operator resets so a replayed
// event is not short-circuited by a stale cache entry.
func (c *IdempotencyCache) Remove(ctx context.Context, eventID string) {
	if err := c.client.Del(ctx, eventKey(eventID)).Err(); err != nil {
		c.logger.Warn("failed to evict cached event", "event_id", eventID, "error", err)
	}
}
