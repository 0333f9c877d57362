// Package cache keeps private conversation histories in Redis using the
// cache-aside pattern.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/redis/go-redis/v9"
)

// Cache stores conversation histories keyed by the unordered user pair.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  Stats
}

// Stats tracks cache statistics.
type Stats struct {
	Hits    atomic.Uint64
	Misses  atomic.Uint64
	Sets    atomic.Uint64
	Deletes atomic.Uint64
	Errors  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a Cache on top of client.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// ConversationKey returns the key shared by both directions of a pair.
func ConversationKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("conv:%d:%d", a, b)
}

// GetConversation returns the cached history of (a, b). The boolean is
// false on a miss.
func (c *Cache) GetConversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+ConversationKey(a, b)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.stats.Misses.Add(1)
			return nil, false, nil
		}
		c.stats.Errors.Add(1)
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var msgs []*domain.PrivateMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		c.stats.Errors.Add(1)
		return nil, false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	c.stats.Hits.Add(1)
	return msgs, true, nil
}

// SetConversation caches the history of (a, b) for the configured TTL.
func (c *Cache) SetConversation(ctx context.Context, a, b int64, msgs []*domain.PrivateMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+ConversationKey(a, b), data, c.ttl).Err(); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}
	c.stats.Sets.Add(1)
	return nil
}

// InvalidateConversation drops the cached history of (a, b).
func (c *Cache) InvalidateConversation(ctx context.Context, a, b int64) error {
	if err := c.client.Del(ctx, c.prefix+ConversationKey(a, b)).Err(); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("cache delete error: %w", err)
	}
	c.stats.Deletes.Add(1)
	return nil
}

// Snapshot returns the current statistics.
func (c *Cache) Snapshot() StatsSnapshot {
	hits := c.stats.Hits.Load()
	misses := c.stats.Misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return StatsSnapshot{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.stats.Sets.Load(),
		Deletes: c.stats.Deletes.Load(),
		Errors:  c.stats.Errors.Load(),
		HitRate: hitRate,
	}
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
