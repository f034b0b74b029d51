package sessionkit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Manager struct {
	store           Store
	ttl             time.Duration
	cookie          string
	cookiePath      string
	cookieDomain    string
	cleanup         time.Duration
	stopChan        chan struct{}
	httpOnly        bool
	secure          *bool
	sameSite        http.SameSite
	maxSessionBytes int
	logger          zerolog.Logger
	metrics         *Metrics
	verifier        *Verifier
}

type Config struct {
	Store           Store
	TTL             time.Duration
	CookieName      string
	CookiePath      string
	CookieDomain    string
	CleanupInterval time.Duration
	HttpOnly        *bool
	Secure          *bool
	SameSite        http.SameSite
	MaxSessionBytes int // Maximum size in bytes of the serialized session data. 0 means unlimited.

	// Readiness tunes post-persist verification. Slow or replicated stores
	// need a larger budget than the defaults.
	Readiness ReadinessConfig
	Logger    *zerolog.Logger
	Metrics   *Metrics
}

func NewManager(cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "session_id"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Manager{
		store:           cfg.Store,
		ttl:             cfg.TTL,
		cookie:          cfg.CookieName,
		cookiePath:      cfg.CookiePath,
		cookieDomain:    cfg.CookieDomain,
		cleanup:         cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
		httpOnly:        true,
		secure:          cfg.Secure,
		sameSite:        http.SameSiteLaxMode,
		maxSessionBytes: cfg.MaxSessionBytes,
		logger:          logger,
		metrics:         cfg.Metrics,
		verifier:        NewVerifier(cfg.Store, cfg.Readiness, logger, cfg.Metrics),
	}

	if cfg.HttpOnly != nil {
		m.httpOnly = *cfg.HttpOnly
	}

	if cfg.SameSite != 0 {
		m.sameSite = cfg.SameSite
	}

	// Browsers reject SameSite=None cookies without the Secure attribute.
	if m.sameSite == http.SameSiteNoneMode {
		secure := true
		m.secure = &secure
	}

	go m.cleanupWorker()

	return m
}

func (m *Manager) cleanupWorker() {
	ticker := time.NewTicker(m.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.store.Cleanup(ctx); err != nil {
				m.logger.Error().Err(err).Msg("session cleanup failed")
			}
			cancel()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) Close() error {
	close(m.stopChan)
	return m.store.Close()
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookie }

// Get returns the session bound to the request cookie, or a fresh unsaved
// session when there is none (or it is invalid or expired).
func (m *Manager) Get(r *http.Request) (*Session, error) {
	session, err := m.Load(r)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}
	session, err = m.newSession()
	if err != nil {
		return nil, storeError("get", "", err)
	}
	return session, nil
}

// Load returns the persisted session bound to the request cookie, or nil.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookie)
	if err != nil {
		return nil, nil
	}

	// Reject malformed IDs before they reach the backend.
	if !IsValidID(cookie.Value) {
		return nil, nil
	}

	session, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}

	// Memcached and Redis expire lazily; never hand out an expired session.
	if session == nil || session.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}

	return session, nil
}

// Persist submits the session for a durable write and refreshes its expiry.
// A nil error means the store accepted the write, not that every reader can
// already see it; see Verify.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	// Hold the session lock so concurrent Set/Delete cannot race the encoder.
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsValidID(s.ID) {
		return ErrInvalidSessionID
	}

	s.ExpiresAt = time.Now().Add(m.ttl)

	// Empty sessions skip the size check and its encoding entirely.
	if m.maxSessionBytes > 0 && len(s.Values) > 0 {
		buf, err := encodeGob(s.Values)
		if err != nil {
			return storeError("persist", s.ID, err)
		}
		defer PutBuffer(buf)

		if buf.Len() > m.maxSessionBytes {
			return storeError("persist", s.ID, ErrSessionTooLarge)
		}

		// SQL stores reuse these bytes; store.Save is synchronous so the
		// buffer outlives the write, and s.encoded is cleared before release.
		s.encoded = buf.Bytes()
	}

	err := m.store.Save(ctx, s)
	s.encoded = nil
	if err != nil {
		m.metrics.storeError("persist")
		return storeError("persist", s.ID, err)
	}
	return nil
}

// Save persists the session and sets the session cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.Persist(r.Context(), s); err != nil {
		return err
	}
	m.setCookie(w, r, s)
	return nil
}

// Verify blocks until the session record is readable from the durable store,
// using the configured attempt budget.
func (m *Manager) Verify(ctx context.Context, sessionID string) error {
	return m.verifier.Verify(ctx, sessionID)
}

// VerifyWith is Verify with an explicit attempt budget and initial delay.
func (m *Manager) VerifyWith(ctx context.Context, sessionID string, maxAttempts int, initialDelay time.Duration) error {
	return m.verifier.VerifyWith(ctx, sessionID, maxAttempts, initialDelay)
}

// InitializeWithUser starts an authenticated session for userID. It runs
// regenerate, bind identity, persist and verify strictly in order and stops at
// the first failure. The session cookie is only written once the record is
// confirmed readable; on failure the client is left without a session.
func (m *Manager) InitializeWithUser(w http.ResponseWriter, r *http.Request, userID string, roles []string) (*Session, error) {
	ctx := r.Context()
	attempt := &initAttempt{
		logger: m.logger.With().Str("user_id", userID).Logger(),
	}

	attempt.enter(StateRegenerating)
	s, err := m.regenerate(r)
	if err != nil {
		return nil, m.abortInit(w, r, attempt, nil, err)
	}
	attempt.logger = attempt.logger.With().Str("session_id", s.ID).Logger()

	s.SetUser(userID, roles)

	attempt.enter(StatePersisting)
	if err := m.Persist(ctx, s); err != nil {
		return nil, m.abortInit(w, r, attempt, s, err)
	}

	attempt.enter(StateVerifying)
	if err := m.Verify(ctx, s.ID); err != nil {
		return nil, m.abortInit(w, r, attempt, s, err)
	}

	attempt.enter(StateReady)
	m.metrics.observeInit(StateReady, StateVerifying)
	m.setCookie(w, r, s)

	attempt.logger.Info().Msg("session initialized and verified in store")
	return s, nil
}

// abortInit fails the attempt and makes sure nothing half-initialized
// survives: the new record (if any) is removed and the cookie cleared.
func (m *Manager) abortInit(w http.ResponseWriter, r *http.Request, a *initAttempt, s *Session, err error) error {
	err = a.fail(err)
	m.metrics.observeInit(StateFailed, a.failed)

	if s != nil && a.failed != StateRegenerating {
		// The request context may be gone already (client disconnect).
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		if delErr := m.store.Delete(ctx, s.ID); delErr != nil {
			m.logger.Warn().Err(delErr).Str("session_id", s.ID).Msg("failed to remove uninitialized session")
		}
		cancel()
		s.Clear()
	}
	m.clearCookie(w, r)
	return err
}

// regenerate invalidates the session bound to the request, if any, and
// allocates a new empty one. Nothing is written for the new session.
func (m *Manager) regenerate(r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(m.cookie); err == nil && IsValidID(cookie.Value) {
		if err := m.store.Delete(r.Context(), cookie.Value); err != nil {
			m.metrics.storeError("regenerate")
			return nil, storeError("regenerate", cookie.Value, err)
		}
	}

	s, err := m.newSession()
	if err != nil {
		return nil, storeError("regenerate", "", err)
	}
	return s, nil
}

// Regenerate rotates the ID of an existing session while keeping its values,
// to prevent session fixation after a privilege change. The session is saved
// under the new ID and the old record is removed.
func (m *Manager) Regenerate(w http.ResponseWriter, r *http.Request, s *Session) error {
	oldID := s.ID
	newID, err := generateID()
	if err != nil {
		return storeError("regenerate", oldID, err)
	}
	s.ID = newID

	if err := m.Save(w, r, s); err != nil {
		s.ID = oldID
		return err
	}

	if err := m.store.Delete(r.Context(), oldID); err != nil {
		// Fail closed: the old ID may still be valid, so neither ID may be
		// left usable on the client.
		m.metrics.storeError("regenerate")
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		if delErr := m.store.Delete(ctx, newID); delErr != nil {
			m.logger.Warn().Err(delErr).Str("session_id", newID).Msg("failed to remove regenerated session")
		}
		cancel()
		m.clearCookie(w, r)
		return storeError("regenerate", oldID, err)
	}

	return nil
}

// Destroy removes the session from the store and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, s *Session) error {
	// The cookie is cleared even if the store delete fails.
	m.clearCookie(w, r)

	// Wipe values from memory whatever the store outcome.
	defer s.Clear()

	if err := m.store.Delete(r.Context(), s.ID); err != nil {
		m.metrics.storeError("destroy")
		return storeError("destroy", s.ID, err)
	}

	return nil
}

// New returns a fresh, unsaved session. It panics if the system entropy
// source fails; Get reports that case as an error instead.
func (m *Manager) New() *Session {
	s, err := m.newSession()
	if err != nil {
		panic(err)
	}
	return s
}

func (m *Manager) newSession() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:        id,
		Values:    make(map[string]any),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}, nil
}

func (m *Manager) isSecure(r *http.Request) bool {
	if m.secure != nil {
		return *m.secure
	}
	return r.TLS != nil
}

func (m *Manager) setCookie(w http.ResponseWriter, r *http.Request, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    s.ID,
		Path:     m.cookiePath,
		Domain:   m.cookieDomain,
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: m.httpOnly,
		Secure:   m.isSecure(r),
		SameSite: m.sameSite,
	})
}

// ClearCookie expires the session cookie on the client without touching the
// store.
func (m *Manager) ClearCookie(w http.ResponseWriter, r *http.Request) {
	m.clearCookie(w, r)
}

func (m *Manager) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     m.cookiePath,
		Domain:   m.cookieDomain,
		MaxAge:   -1,
		HttpOnly: m.httpOnly,
		Secure:   m.isSecure(r),
		SameSite: m.sameSite,
	})
}

// IsNotReady reports whether err means verification gave up on a session.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrSessionNotReady)
}
