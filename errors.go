package sessionkit

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionTooLarge is returned when the session data exceeds the configured MaxSessionBytes.
	ErrSessionTooLarge = errors.New("session data too large")

	// ErrInvalidSessionID is returned when the session ID format is invalid.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotReady matches every *NotReadyError via errors.Is.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrRedisUnavailable wraps transport failures of the Redis store.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// StoreError reports a backend failure while regenerating, persisting or
// destroying a session. It is fatal to the current initialization attempt
// and is never retried by the Manager.
type StoreError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session store %s failed for %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotReadyError is returned when verification exhausted every attempt
// without observing the session record in the durable store.
type NotReadyError struct {
	SessionID string
	Attempts  int
	// LastErr is the read error of the final attempt, if it failed with one.
	LastErr error
}

func (e *NotReadyError) Error() string {
	msg := fmt.Sprintf("session %s not found in store after %d attempts", e.SessionID, e.Attempts)
	if e.LastErr != nil {
		msg += ": last read error: " + e.LastErr.Error()
	}
	return msg
}

func (e *NotReadyError) Is(target error) bool { return target == ErrSessionNotReady }

func (e *NotReadyError) Unwrap() error { return e.LastErr }

func storeError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, SessionID: id, Err: err}
}
