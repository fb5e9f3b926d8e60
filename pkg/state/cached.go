package state

import (
	"context"
	"sync"
	"time"
)

// CachedStore serves reads from an in-memory copy for up to TTL after the
// document was last read or written through it. Updates always go to the
// underlying store under its lock, so the cache only ever affects
// best-effort reads.
type CachedStore struct {
	Store

	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   int64
	misses int64
}

type cacheEntry struct {
	data     []byte
	storedAt time.Time
}

// NewCachedStore wraps store with a read cache.
func NewCachedStore(store Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Update implements Store and refreshes the cached copy.
func (c *CachedStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	var written []byte
	err := c.Store.Update(ctx, name, func(current []byte) ([]byte, error) {
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			written = next
		} else {
			written = current
		}
		return next, nil
	})
	if err != nil {
		c.invalidate(name)
		return err
	}
	if written != nil {
		c.put(name, written)
	}
	return nil
}

// Read implements Store.
func (c *CachedStore) Read(ctx context.Context, name string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.storedAt) < c.ttl {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return cloneBytes(entry.data), nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	data, err := c.Store.Read(ctx, name)
	if err != nil {
		c.invalidate(name)
		return nil, err
	}
	c.put(name, data)
	return data, nil
}

// Delete implements Store.
func (c *CachedStore) Delete(ctx context.Context, name string) error {
	c.invalidate(name)
	return c.Store.Delete(ctx, name)
}

// DeleteIf implements Store.
func (c *CachedStore) DeleteIf(ctx context.Context, name string, remove func([]byte) bool) (bool, error) {
	c.invalidate(name)
	return c.Store.DeleteIf(ctx, name, remove)
}

// Stats returns cache hit and miss counts.
func (c *CachedStore) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *CachedStore) put(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = cacheEntry{data: cloneBytes(data), storedAt: c.now()}
}

func (c *CachedStore) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}
