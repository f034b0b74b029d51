package sessionkit

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Keys under which the authenticated identity is kept in Session.Values.
const (
	UserIDKey    = "user_id"
	UserRolesKey = "user_roles"
)

// Session represents a user session.
type Session struct {
	ID        string
	Values    map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	encoded []byte // gob payload prepared by Manager.Persist, valid only during Store.Save
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Values[key]
	return v, ok
}

// Set stores value under key.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = value
}

// Delete removes key from the session.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Values, key)
}

// Clear wipes every value held by the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.Values)
}

// SetUser binds an authenticated identity to the session. It only touches
// the in-memory payload; nothing is written until the session is persisted.
func (s *Session) SetUser(userID string, roles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[UserIDKey] = userID
	s.Values[UserRolesKey] = slices.Clone(roles)
}

// UserID returns the identity bound by SetUser, if any.
func (s *Session) UserID() (string, bool) {
	v, ok := s.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// Roles returns the role set bound by SetUser.
func (s *Session) Roles() []string {
	v, ok := s.Get(UserRolesKey)
	if !ok {
		return nil
	}
	roles, _ := v.([]string)
	return slices.Clone(roles)
}

// HasRole reports whether role is part of the session's role set.
func (s *Session) HasRole(role string) bool {
	return slices.Contains(s.Roles(), role)
}

// Store defines the interface for session persistence.
//
// Get must be a real read against the backing store: implementations that
// serve reads from memory have to expose the uncached store through Direct
// (see CachedStore) so that readiness verification never trusts a cache.
type Store interface {
	// Get retrieves a session by its ID. It returns nil, nil when the session
	// does not exist or has expired.
	Get(ctx context.Context, id string) (*Session, error)
	// Save upserts a session by its ID.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session from the store.
	Delete(ctx context.Context, id string) error
	// Cleanup removes expired sessions from the store.
	Cleanup(ctx context.Context) error
	// Close closes the store.
	Close() error
}
