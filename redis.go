package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions as gob envelopes under prefixed string keys.
//
// When a replica is configured, reads are served by it while writes go to the
// primary. Replication is asynchronous, so a freshly saved session may not be
// readable yet; Manager.Verify exists to wait that window out.
type RedisStore struct {
	primary         redis.UniversalClient
	replica         redis.UniversalClient
	ownsClients     bool
	keyPrefix       string
	ttl             time.Duration
	maxSessionBytes int
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Addr            string
	ReplicaAddr     string // optional read endpoint
	Password        string
	DB              int
	KeyPrefix       string
	TTL             time.Duration // used when a session carries no ExpiresAt
	MaxSessionBytes int
	DialTimeout     time.Duration
}

// NewRedisStore connects to Redis and checks the connection with PING.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	primary := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	var replica redis.UniversalClient
	if cfg.ReplicaAddr != "" {
		replica = redis.NewClient(&redis.Options{
			Addr:        cfg.ReplicaAddr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		})
	}

	store := NewRedisStoreWithClients(primary, replica, cfg)
	store.ownsClients = true

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	for _, c := range store.clients() {
		if err := c.Ping(ctx).Err(); err != nil {
			store.Close()
			return nil, fmt.Errorf("%w: ping: %v", ErrRedisUnavailable, err)
		}
	}
	return store, nil
}

// NewRedisStoreWithClients builds a store on caller-owned clients. replica may
// be nil, in which case reads go to primary. Close does not close the clients.
func NewRedisStoreWithClients(primary, replica redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sessions:"
	}
	if replica == nil {
		replica = primary
	}
	return &RedisStore{
		primary:         primary,
		replica:         replica,
		keyPrefix:       cfg.KeyPrefix,
		ttl:             cfg.TTL,
		maxSessionBytes: cfg.MaxSessionBytes,
	}
}

func (s *RedisStore) key(id string) string { return s.keyPrefix + id }

func (s *RedisStore) clients() []redis.UniversalClient {
	if s.replica == s.primary {
		return []redis.UniversalClient{s.primary}
	}
	return []redis.UniversalClient{s.primary, s.replica}
}

// Get reads the session from the read endpoint.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.replica.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if s.maxSessionBytes > 0 && len(data) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if !env.ExpiresAt.IsZero() && !env.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return env.session(id), nil
}

// Save upserts the session on the primary with a TTL matching its expiry.
func (s *RedisStore) Save(ctx context.Context, session *Session) error {
	ttl := s.ttl
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
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

	if err := s.primary.Set(ctx, s.key(session.ID), buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes the session. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.primary.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Cleanup is a no-op: keys carry their own TTL.
func (s *RedisStore) Cleanup(ctx context.Context) error {
	return nil
}

func (s *RedisStore) Close() error {
	if !s.ownsClients {
		return nil
	}
	var errs []error
	for _, c := range s.clients() {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
