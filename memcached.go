package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore implements the Store interface using Memcached.
type MemcachedStore struct {
	client          *memcache.Client
	keyPrefix       string
	ttl             time.Duration
	maxSessionBytes int
}

// MemcachedConfig holds configuration for the Memcached store.
type MemcachedConfig struct {
	Servers         []string
	KeyPrefix       string // Prepended to session IDs; empty means bare IDs.
	TTL             time.Duration
	MaxSessionBytes int
	Timeout         time.Duration // Timeout for Memcached operations. 0 means no timeout.
}

// NewMemcachedStore creates a new MemcachedStore with a one second operation timeout.
func NewMemcachedStore(ttl time.Duration, servers ...string) *MemcachedStore {
	return NewMemcachedStoreWithConfig(MemcachedConfig{
		Servers: servers,
		TTL:     ttl,
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedStoreWithConfig creates a new MemcachedStore with custom configuration.
func NewMemcachedStoreWithConfig(cfg MemcachedConfig) *MemcachedStore {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout

	return &MemcachedStore{
		client:          client,
		keyPrefix:       cfg.KeyPrefix,
		ttl:             cfg.TTL,
		maxSessionBytes: cfg.MaxSessionBytes,
	}
}

// Get retrieves a session from Memcached.
func (s *MemcachedStore) Get(ctx context.Context, id string) (*Session, error) {
	// The memcache client takes no context; honour cancellation up front.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := s.client.Get(s.key(id))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from memcached: %w", err)
	}

	if s.maxSessionBytes > 0 && len(item.Value) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}

	env, err := decodeEnvelope(item.Value)
	if err != nil {
		return nil, err
	}

	// Memcached expiry has one second granularity.
	if !env.ExpiresAt.IsZero() && !env.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return env.session(id), nil
}

// Save stores a session in Memcached.
func (s *MemcachedStore) Save(ctx context.Context, session *Session) error {
	// Already expired: nothing worth writing.
	if !session.ExpiresAt.IsZero() && time.Until(session.ExpiresAt) <= 0 {
		return nil
	}

	buf, err := encodeGob(sessionEnvelope{
		Values:    session.Values,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return err
	}
	defer PutBuffer(buf)

	if s.maxSessionBytes > 0 && buf.Len() > s.maxSessionBytes {
		return ErrSessionTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.client.Set(&memcache.Item{
		Key:        s.key(session.ID),
		Value:      buf.Bytes(),
		Expiration: calculateMemcachedExpiration(time.Now(), session.ExpiresAt, s.ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

// Delete removes a session from Memcached.
func (s *MemcachedStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.client.Delete(s.key(id))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return nil
}

func (s *MemcachedStore) key(id string) string { return s.keyPrefix + id }

// Cleanup is a no-op: Memcached evicts expired items itself.
func (s *MemcachedStore) Cleanup(ctx context.Context) error {
	return nil
}

// Close is a no-op for Memcached client.
func (s *MemcachedStore) Close() error {
	return nil
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, expiresAt time.Time, ttl time.Duration) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	var duration time.Duration
	if !expiresAt.IsZero() {
		duration = expiresAt.Sub(now)
	} else {
		duration = ttl
	}

	// A delta above 30 days would be read as a timestamp in 1970.
	if duration > maxDelta*time.Second {
		if !expiresAt.IsZero() {
			return int32(expiresAt.Unix())
		}
		return int32(now.Add(ttl).Unix())
	}

	// 0 means "never expire" to memcached; a negative value drops the item.
	if duration < 0 {
		return -1
	}
	return int32(duration.Seconds())
}
