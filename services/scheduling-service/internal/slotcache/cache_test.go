package slotcache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// memRedis implements the three commands the cache issues.
type memRedis struct {
	redis.Cmdable
	data map[string]string
}

func newMemRedis() *memRedis { return &memRedis{data: map[string]string{}} }

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func TestNilCacheIsNoop(t *testing.T) {
	c := New(nil, time.Minute)
	if c != nil {
		t.Fatal("expected nil cache without redis")
	}
	ctx := context.Background()
	if _, v, ok := c.Get(ctx, "coach-1", "2026-01-05", 60); ok || v != -1 {
		t.Fatalf("nil cache must miss without a version, got ok=%v v=%d", ok, v)
	}
	if err := c.Set(ctx, "coach-1", "2026-01-05", 60, 0, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Invalidate(ctx, "coach-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
}

func TestEntryKeyIncludesVersion(t *testing.T) {
	a := entryKey("coach-1", 1, "2026-01-05", 60)
	b := entryKey("coach-1", 2, "2026-01-05", 60)
	if a == b {
		t.Fatal("keys must differ across versions")
	}
	if a != "slots:coach-1:v1:2026-01-05:60" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(newMemRedis(), time.Minute)
	ten := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, v, ok := c.Get(ctx, "coach-1", "2026-01-05", 60)
	if ok || v != 0 {
		t.Fatalf("expected miss at version 0, got ok=%v v=%d", ok, v)
	}
	if err := c.Set(ctx, "coach-1", "2026-01-05", 60, v, []time.Time{ten}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _, ok := c.Get(ctx, "coach-1", "2026-01-05", 60)
	if !ok || len(got) != 1 || !got[0].Equal(ten) {
		t.Fatalf("expected cached [10:00], got ok=%v %v", ok, got)
	}
}

// A reader that missed, then lost the race to a booking that invalidated the
// coach, must not publish its list under the new version.
func TestListComputedBeforeInvalidateIsNotServed(t *testing.T) {
	ctx := context.Background()
	c := New(newMemRedis(), time.Minute)
	ten := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, v, ok := c.Get(ctx, "coach-1", "2026-01-05", 60)
	if ok {
		t.Fatal("expected initial miss")
	}
	// The 10:00 slot is booked and the coach invalidated before the reader writes.
	if err := c.Invalidate(ctx, "coach-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := c.Set(ctx, "coach-1", "2026-01-05", 60, v, []time.Time{ten}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got, _, ok := c.Get(ctx, "coach-1", "2026-01-05", 60); ok {
		t.Fatalf("booked slot list served after invalidation: %v", got)
	}
}

func TestSetSkipsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	m := newMemRedis()
	c := New(m, time.Minute)
	if err := c.Set(ctx, "coach-1", "2026-01-05", 60, -1, []time.Time{time.Now()}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(m.data) != 0 {
		t.Fatalf("nothing should be written without a version, got %v", m.data)
	}
}
