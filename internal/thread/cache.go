package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Minerva/internal/models"
	"Minerva/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	threadKeyPrefix = "thread:"
	indexKeyPrefix  = "thread-index:"
)

// Cache is the Redis layer of the thread discovery chain. It is strictly
// an accelerator: every method degrades to a no-op (with a warning) when
// Redis is down, and callers must treat a miss and an outage identically.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewCache creates a thread cache. A nil client produces a disabled cache
// whose methods all miss, which keeps the call sites free of nil checks.
func NewCache(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

// GetThread returns the cached thread of a project, or (nil, false) on
// miss, outage or decode failure.
func (c *Cache) GetThread(ctx context.Context, projectID string) (*models.ProjectThread, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, threadKeyPrefix+projectID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn(fmt.Sprintf("redis get for project %s failed: %v", projectID, err))
		}
		return nil, false
	}
	var t models.ProjectThread
	if err := json.Unmarshal(raw, &t); err != nil {
		c.log.Warn(fmt.Sprintf("cached thread for project %s is undecodable, dropping: %v", projectID, err))
		c.Invalidate(ctx, projectID)
		return nil, false
	}
	return &t, true
}

// PutThread caches a thread under its project, refreshing the TTL. It also
// maintains the project -> thread-id index entry used by tooling.
func (c *Cache) PutThread(ctx context.Context, t *models.ProjectThread) {
	if c == nil || c.rdb == nil || t == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		c.log.Warn(fmt.Sprintf("failed to encode thread %s for cache: %v", t.ThreadID, err))
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, threadKeyPrefix+t.ProjectID, raw, c.ttl)
	pipe.Set(ctx, indexKeyPrefix+t.ProjectID, t.ThreadID, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn(fmt.Sprintf("redis put for project %s failed: %v", t.ProjectID, err))
	}
}

// Invalidate drops a project's cached thread and index entry. Called after
// truncation so a stale snapshot can never resurface.
func (c *Cache) Invalidate(ctx context.Context, projectID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, threadKeyPrefix+projectID, indexKeyPrefix+projectID).Err(); err != nil {
		c.log.Warn(fmt.Sprintf("redis invalidate for project %s failed: %v", projectID, err))
	}
}
