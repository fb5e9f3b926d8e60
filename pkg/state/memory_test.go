package state

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_ConcurrentLockedUpdates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := WithLockedUpdate(ctx, store, "counter", newCounter, func(d *counterDoc) error {
				d.Counter++
				return nil
			}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := ReadBestEffort(ctx, store, "counter", newCounter); got.Counter != 50 {
		t.Errorf("counter = %d, want 50", got.Counter)
	}
}

func TestMemoryStore_CorruptSeed(t *testing.T) {
	store := NewMemoryStore()
	store.Put("doc", []byte("not json"))

	got, err := WithLockedRead(context.Background(), store, "doc", newCounter)
	if err != nil {
		t.Fatal(err)
	}
	if got.Counter != 0 {
		t.Errorf("counter = %d, want 0", got.Counter)
	}
}

func TestCachedStore_ServesReadsWithinTTL(t *testing.T) {
	base := NewMemoryStore()
	cached := NewCachedStore(base, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := WithLockedUpdate(ctx, cached, "doc", newCounter, func(d *counterDoc) error {
		d.Counter = 1
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// A write that bypasses the cache is invisible until the TTL passes.
	base.Put("doc", []byte(`{"counter": 5}`))
	if got := ReadBestEffort(ctx, cached, "doc", newCounter); got.Counter != 1 {
		t.Errorf("cached counter = %d, want 1", got.Counter)
	}

	now = now.Add(2 * time.Minute)
	if got := ReadBestEffort(ctx, cached, "doc", newCounter); got.Counter != 5 {
		t.Errorf("counter after ttl = %d, want 5", got.Counter)
	}

	hits, misses := cached.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses, want 1, 1", hits, misses)
	}
}

func TestCachedStore_UpdatesSeeUnderlyingState(t *testing.T) {
	base := NewMemoryStore()
	cached := NewCachedStore(base, time.Hour)
	ctx := context.Background()

	base.Put("doc", []byte(`{"counter": 10}`))
	got, err := WithLockedUpdate(ctx, cached, "doc", newCounter, func(d *counterDoc) error {
		d.Counter++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Counter != 11 {
		t.Errorf("counter = %d, want 11", got.Counter)
	}
}
