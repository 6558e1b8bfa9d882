package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestMissQueuesBackfill(t *testing.T) {
	c := NewCache(Config{})
	var calls atomic.Int32
	c.Register(KindBadge, FetcherFunc(func(ctx context.Context, kind Kind, key string) (string, error) {
		calls.Add(1)
		return "https://cdn/" + key + ".png", nil
	}))

	if _, ok := c.Resolve(KindBadge, "subscriber/12"); ok {
		t.Fatalf("first lookup should miss")
	}
	c.Resolve(KindBadge, "Subscriber/12")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool {
		_, ok := c.Resolve(KindBadge, "subscriber/12")
		return ok
	})
	ref, _ := c.Resolve(KindBadge, "subscriber/12")
	if ref != "https://cdn/subscriber/12.png" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if calls.Load() != 1 {
		t.Fatalf("pending lookups should share one backfill, got %d", calls.Load())
	}
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	c := NewCache(Config{QueueSize: 1})
	c.Register(KindEmoji, FetcherFunc(func(context.Context, Kind, string) (string, error) { return "x", nil }))

	done := make(chan struct{})
	go func() {
		c.Resolve(KindEmoji, ":a:")
		c.Resolve(KindEmoji, ":b:")
		c.Resolve(KindEmoji, ":c:")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("resolve blocked on a full queue")
	}
	if got := c.Stats().Dropped; got != 2 {
		t.Fatalf("dropped = %d", got)
	}
}

func TestFailedBackfillIsNotRetriedImmediately(t *testing.T) {
	c := NewCache(Config{})
	var calls atomic.Int32
	c.Register(KindEmoji, FetcherFunc(func(context.Context, Kind, string) (string, error) {
		calls.Add(1)
		return "", errors.New("unknown")
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Resolve(KindEmoji, ":nope:")
	waitFor(t, func() bool { return calls.Load() == 1 })
	waitFor(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.pending) == 0
	})
	c.Resolve(KindEmoji, ":nope:")
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("negative cache ignored, calls=%d", calls.Load())
	}
}

func TestExpiredFailuresArePruned(t *testing.T) {
	c := NewCache(Config{NegativeTTL: 20 * time.Millisecond})
	var calls atomic.Int32
	c.Register(KindEmoji, FetcherFunc(func(context.Context, Kind, string) (string, error) {
		calls.Add(1)
		return "", errors.New("unknown")
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	failedKeys := func() int {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.failed)
	}

	c.Resolve(KindEmoji, ":first:")
	waitFor(t, func() bool { return failedKeys() == 1 })
	time.Sleep(40 * time.Millisecond)

	c.Resolve(KindEmoji, ":second:")
	waitFor(t, func() bool { return calls.Load() == 2 })
	waitFor(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		_, first := c.failed[cacheKey{kind: KindEmoji, key: ":first:"}]
		_, second := c.failed[cacheKey{kind: KindEmoji, key: ":second:"}]
		return !first && second
	})
	if n := failedKeys(); n != 1 {
		t.Fatalf("failed entries = %d, want 1", n)
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(`{"emoji":{":Wave:":"/emoji/wave.png"},"badge":{"vip/1":""}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewCache(Config{})
	n, err := c.LoadSeed(path)
	if err != nil || n != 1 {
		t.Fatalf("LoadSeed = %d, %v", n, err)
	}
	if ref, ok := c.Resolve(KindEmoji, ":wave:"); !ok || ref != "/emoji/wave.png" {
		t.Fatalf("seeded emoji not found: %q %v", ref, ok)
	}
}
