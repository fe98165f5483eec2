// Package slotcache keeps generated slot lists in Redis. Every coach has a
// version counter that is bumped on any calendar change, so stale entries are
// never read and simply expire.
package slotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New returns nil when rdb is nil; a nil *Cache is a valid no-op cache.
func New(rdb redis.Cmdable, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func versionKey(coachID string) string {
	return "slots:ver:" + coachID
}

func entryKey(coachID string, version int64, date string, durationMinutes int) string {
	return fmt.Sprintf("slots:%s:v%d:%s:%d", coachID, version, date, durationMinutes)
}

func (c *Cache) version(ctx context.Context, coachID string) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(coachID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get returns the cached starts for (coach, date, duration) together with
// the version it read. On a miss the caller computes the list and hands that
// version back to Set, so a list built before a concurrent Invalidate is
// stored under the old version and never read. A version of -1 means the
// version could not be read and nothing should be stored.
func (c *Cache) Get(ctx context.Context, coachID, date string, durationMinutes int) ([]time.Time, int64, bool) {
	if c == nil {
		return nil, -1, false
	}
	v, err := c.version(ctx, coachID)
	if err != nil {
		return nil, -1, false
	}
	raw, err := c.rdb.Get(ctx, entryKey(coachID, v, date, durationMinutes)).Bytes()
	if err != nil {
		return nil, v, false
	}
	var slots []time.Time
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, v, false
	}
	return slots, v, true
}

// Set stores slots under version, the value Get returned before the list
// was computed.
func (c *Cache) Set(ctx context.Context, coachID, date string, durationMinutes int, version int64, slots []time.Time) error {
	if c == nil || version < 0 {
		return nil
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, entryKey(coachID, version, date, durationMinutes), raw, c.ttl).Err()
}

// Invalidate drops every cached list of the coach.
func (c *Cache) Invalidate(ctx context.Context, coachID string) error {
	if c == nil {
		return nil
	}
	return c.rdb.Incr(ctx, versionKey(coachID)).Err()
}
