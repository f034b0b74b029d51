package sessionkit

import (
	"context"
	"maps"
	"sync"
	"time"
)

// CachedStore is an in-process read-through cache in front of another Store.
// Writes and deletes go straight to the wrapped store and refresh the cache.
//
// A cached hit proves nothing about what other processes can read, so the
// readiness Verifier always reads through Direct.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// writes counts Save and Delete calls. A read only fills the cache when
	// no write started or finished while it was in flight.
	writes uint64
}

type cacheEntry struct {
	session  *Session
	cachedAt time.Time
}

// NewCachedStore wraps next with a cache whose entries live for ttl.
func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Direct returns the uncached store.
func (c *CachedStore) Direct() Store { return c.next }

func (c *CachedStore) Get(ctx context.Context, id string) (*Session, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[id]
	seen := c.writes
	c.mu.RUnlock()
	if ok && now.Sub(e.cachedAt) < c.ttl && e.session.ExpiresAt.After(now) {
		return copySession(e.session), nil
	}

	s, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.writes == seen {
		if s == nil {
			delete(c.entries, id)
		} else {
			c.entries[id] = cacheEntry{session: copySession(s), cachedAt: now}
		}
	}
	c.mu.Unlock()
	return s, nil
}

func (c *CachedStore) Save(ctx context.Context, s *Session) error {
	c.forget(s.ID)
	if err := c.next.Save(ctx, s); err != nil {
		c.forget(s.ID)
		return err
	}
	c.mu.Lock()
	c.writes++
	c.entries[s.ID] = cacheEntry{session: copySession(s), cachedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.forget(id)
	err := c.next.Delete(ctx, id)
	c.forget(id)
	return err
}

// Cleanup drops stale cache entries and cleans the wrapped store.
func (c *CachedStore) Cleanup(ctx context.Context) error {
	now := c.now()
	c.mu.Lock()
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl || !e.session.ExpiresAt.After(now) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
	return c.next.Cleanup(ctx)
}

func (c *CachedStore) Close() error {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
	return c.next.Close()
}

// forget drops the entry for id and marks a write, so reads already in
// flight do not put it back.
func (c *CachedStore) forget(id string) {
	c.mu.Lock()
	c.writes++
	delete(c.entries, id)
	c.mu.Unlock()
}

// copySession detaches the cached value from the caller's Session, which the
// request is free to mutate.
func copySession(s *Session) *Session {
	return &Session{
		ID:        s.ID,
		Values:    maps.Clone(s.Values),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

// directStore unwraps caching layers so that reads hit the durable store.
func directStore(s Store) Store {
	for {
		d, ok := s.(interface{ Direct() Store })
		if !ok {
			return s
		}
		s = d.Direct()
	}
}
