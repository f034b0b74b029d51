package sessionkit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultVerifyAttempts     = 10
	DefaultVerifyInitialDelay = 100 * time.Millisecond
)

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ReadinessConfig tunes how long a freshly persisted session is polled for.
// The worst-case wait is InitialDelay * (2^(MaxAttempts-1) - 1) unless
// MaxDelay caps the individual delays.
type ReadinessConfig struct {
	MaxAttempts  int           // default 10
	InitialDelay time.Duration // default 100ms
	MaxDelay     time.Duration // per-delay ceiling, 0 means uncapped
	Sleep        SleepFunc     // default: cancellable timer
}

func (c ReadinessConfig) withDefaults() ReadinessConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultVerifyAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultVerifyInitialDelay
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Backoff returns the delay that precedes the given 1-indexed attempt:
// none before the first, then InitialDelay, 2*InitialDelay, 4*InitialDelay...
func (c ReadinessConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := c.InitialDelay
	for i := 2; i < attempt; i++ {
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
		// Saturate instead of overflowing into a negative duration.
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verifier polls the durable store until a session record is visible.
// It is the only implementation of the polling algorithm; Manager delegates to it.
type Verifier struct {
	store   Store
	cfg     ReadinessConfig
	logger  zerolog.Logger
	metrics *Metrics
}

// NewVerifier returns a Verifier reading from store. Caching layers are
// unwrapped so every attempt is a real read.
func NewVerifier(store Store, cfg ReadinessConfig, logger zerolog.Logger, metrics *Metrics) *Verifier {
	return &Verifier{
		store:   directStore(store),
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Config returns the effective configuration.
func (v *Verifier) Config() ReadinessConfig { return v.cfg }

// Verify polls with the configured attempt budget.
func (v *Verifier) Verify(ctx context.Context, sessionID string) error {
	return v.verify(ctx, sessionID, v.cfg)
}

// VerifyWith polls with an explicit attempt budget and initial delay.
// Non-positive values fall back to the configured ones.
func (v *Verifier) VerifyWith(ctx context.Context, sessionID string, maxAttempts int, initialDelay time.Duration) error {
	cfg := v.cfg
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialDelay > 0 {
		cfg.InitialDelay = initialDelay
	}
	return v.verify(ctx, sessionID, cfg)
}

func (v *Verifier) verify(ctx context.Context, sessionID string, cfg ReadinessConfig) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := cfg.Sleep(ctx, cfg.Backoff(attempt)); err != nil {
				v.metrics.observeVerify("cancelled", attempt-1)
				return fmt.Errorf("verification of session %s cancelled after %d attempts: %w", sessionID, attempt-1, err)
			}
		}

		s, err := v.store.Get(ctx, sessionID)
		switch {
		case err != nil:
			lastErr = err
			v.logger.Error().Err(err).
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("session verification read failed")
		case s != nil:
			v.logger.Debug().
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Msg("session verified in store")
			v.metrics.observeVerify("found", attempt)
			return nil
		default:
			lastErr = nil
			v.logger.Warn().
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("session not found in store")
		}
	}

	v.metrics.observeVerify("exhausted", cfg.MaxAttempts)
	return &NotReadyError{SessionID: sessionID, Attempts: cfg.MaxAttempts, LastErr: lastErr}
}

// InitState is a step of the session initialization sequence.
type InitState int

const (
	StateUninitialized InitState = iota
	StateRegenerating
	StatePersisting
	StateVerifying
	StateReady
	StateFailed
)

func (s InitState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRegenerating:
		return "regenerating"
	case StatePersisting:
		return "persisting"
	case StateVerifying:
		return "verifying"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("InitState(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s InitState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// initAttempt tracks one pass through the initialization state machine.
type initAttempt struct {
	state  InitState
	failed InitState // step that was running when the attempt failed
	logger zerolog.Logger
}

func (a *initAttempt) enter(next InitState) {
	a.logger.Debug().
		Str("from", a.state.String()).
		Str("to", next.String()).
		Msg("session initialization transition")
	a.state = next
}

func (a *initAttempt) fail(err error) error {
	a.failed = a.state
	a.logger.Error().Err(err).
		Str("step", a.state.String()).
		Msg("session initialization failed")
	a.state = StateFailed
	return err
}
