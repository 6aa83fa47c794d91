// Package cache is a fail-open facade over Redis. It accelerates reads
// of analyses, session lists, and batch status; correctness never
// depends on it, and every operation degrades to a no-op when the
// backing store is unreachable or caching is disabled.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs per keyspace.
const (
	TTLAnalysis           = 24 * time.Hour
	TTLSessionList        = 5 * time.Minute
	TTLBatchStatus        = 2 * time.Minute
	TTLSupervisorSessions = 3 * time.Minute
)

const dialTimeout = 2 * time.Second

// Cache wraps an optional Redis client. A nil client means caching is
// disabled and all operations are no-ops; the zero value behaves the
// same way.
type Cache struct {
	client   *redis.Client
	warnOnce sync.Once
}

// New constructs the cache facade. An empty URL disables caching; a
// malformed URL is logged and likewise degrades to disabled rather than
// failing startup. Connectivity is probed lazily on first use.
func New(redisURL string) *Cache {
	if redisURL == "" {
		return &Cache{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("invalid redis URL, running without cache", "error", err)
		return &Cache{}
	}
	opts.DialTimeout = dialTimeout
	opts.MaxRetries = 0
	return &Cache{client: redis.NewClient(opts)}
}

// Enabled reports whether a backing client is configured. It does not
// imply the backing store is reachable.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get loads and decodes a cached value into dest, reporting whether a
// usable entry was found. Backend failures are treated as misses.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warnUnavailable(err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// Stale or foreign entry; treat as a miss.
		return false
	}
	return true
}

// Set stores a JSON-encoded value with a TTL. Failures are suppressed.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.warnUnavailable(err)
	}
}

// Delete removes keys. Failures are suppressed.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.warnUnavailable(err)
	}
}

// DeletePattern removes every key matching a glob pattern, scanning in
// pages to stay friendly to the backing store. Failures are suppressed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.warnUnavailable(err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.warnUnavailable(err)
		}
	}
}

// Close releases the backing connection, if any.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) warnUnavailable(err error) {
	c.warnOnce.Do(func() {
		slog.Warn("cache unavailable, continuing without cache", "error", err)
	})
}

// Key builders for the namespaced keyspaces.

// AnalysisKey caches one session's structured analysis.
func AnalysisKey(sessionID string) string {
	return "analysis:" + sessionID
}

// SessionListKey caches one page of a supervisor's session list.
func SessionListKey(supervisorID string, page int) string {
	return fmt.Sprintf("sessions:%s:%d", supervisorID, page)
}

// SessionListPattern matches every cached page for a supervisor.
func SessionListPattern(supervisorID string) string {
	return "sessions:" + supervisorID + ":*"
}

// AllSessionListsPattern matches every cached session list page.
func AllSessionListsPattern() string {
	return "sessions:*"
}

// BatchStatusKey caches a batch job's progress snapshot.
func BatchStatusKey(batchID string) string {
	return "batch:" + batchID
}

// SupervisorSessionsKey caches a supervisor's session id set.
func SupervisorSessionsKey(supervisorID string) string {
	return "supervisor:" + supervisorID + ":sessions"
}
