package sessionkit

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testID = "0123456789abcdef0123456789abcdef"

func seeded(visibleAfter int) *probeStore {
	p := newProbeStore()
	p.visibleAfter = visibleAfter
	p.records[testID] = &Session{ID: testID, Values: map[string]any{}, ExpiresAt: time.Now().Add(time.Hour)}
	return p
}

func newTestVerifier(store Store, cfg ReadinessConfig) *Verifier {
	return NewVerifier(store, cfg, zerolog.Nop(), NewMetrics(nil))
}

func TestVerify_AtMostMaxAttemptsReads(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 6; maxAttempts++ {
		store := seeded(-1)
		v := newTestVerifier(store, ReadinessConfig{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, Sleep: noSleep})

		err := v.Verify(context.Background(), testID)

		var nre *NotReadyError
		if !errors.As(err, &nre) {
			t.Fatalf("max=%d: expected *NotReadyError, got %v", maxAttempts, err)
		}
		if !errors.Is(err, ErrSessionNotReady) || !IsNotReady(err) {
			t.Errorf("max=%d: NotReadyError should match ErrSessionNotReady", maxAttempts)
		}
		if nre.SessionID != testID || nre.Attempts != maxAttempts {
			t.Errorf("max=%d: unexpected error fields %+v", maxAttempts, nre)
		}
		if got := store.gets(); got != maxAttempts {
			t.Errorf("max=%d: expected %d reads, got %d", maxAttempts, maxAttempts, got)
		}
	}
}

func TestVerify_BackoffSchedule(t *testing.T) {
	var delays []time.Duration
	store := seeded(-1)
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, Sleep: recordingSleep(&delays)})

	_ = v.Verify(context.Background(), testID)

	// Nothing before the first read, nothing after the last.
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	if !slices.Equal(delays, want) {
		t.Errorf("expected delays %v, got %v", want, delays)
	}
}

func TestVerify_StopsAtFirstHit(t *testing.T) {
	for k := 1; k <= 4; k++ {
		var delays []time.Duration
		store := seeded(k)
		v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 10, InitialDelay: time.Millisecond, Sleep: recordingSleep(&delays)})

		if err := v.Verify(context.Background(), testID); err != nil {
			t.Fatalf("k=%d: expected success, got %v", k, err)
		}
		if got := store.gets(); got != k {
			t.Errorf("k=%d: expected exactly %d reads, got %d", k, k, got)
		}
		if len(delays) != k-1 {
			t.Errorf("k=%d: expected %d delays, got %v", k, k-1, delays)
		}
	}
}

func TestVerify_ReadErrorsDoNotAbort(t *testing.T) {
	store := seeded(1)
	store.readErrs[1] = errors.New("connection reset")
	store.readErrs[2] = errors.New("connection reset")
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Sleep: noSleep})

	if err := v.Verify(context.Background(), testID); err != nil {
		t.Fatalf("expected the loop to self-heal, got %v", err)
	}
	if got := store.gets(); got != 3 {
		t.Errorf("expected 3 reads, got %d", got)
	}
}

func TestVerify_ExhaustedKeepsLastReadError(t *testing.T) {
	readErr := errors.New("replica unreachable")
	store := seeded(-1)
	store.readErrs[1] = readErr
	store.readErrs[2] = readErr
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, Sleep: noSleep})

	err := v.Verify(context.Background(), testID)
	if !errors.Is(err, ErrSessionNotReady) {
		t.Fatalf("expected ErrSessionNotReady, got %v", err)
	}
	if !errors.Is(err, readErr) {
		t.Errorf("expected the last read error to be wrapped, got %v", err)
	}
}

func TestVerify_CancelledDuringBackoff(t *testing.T) {
	store := seeded(-1)
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 5, InitialDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	store.getHook = func(n int) {
		if n == 1 {
			time.AfterFunc(20*time.Millisecond, cancel)
		}
	}
	defer cancel()

	start := time.Now()
	err := v.Verify(ctx, testID)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrSessionNotReady) {
		t.Error("cancellation is not exhaustion")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("pending timer was not cancelled, waited %v", elapsed)
	}
	if got := store.gets(); got != 1 {
		t.Errorf("expected 1 read before cancellation, got %d", got)
	}
}

func TestVerify_FoundOnSecondReadTiming(t *testing.T) {
	store := seeded(2)
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond})

	start := time.Now()
	err := v.Verify(context.Background(), testID)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := store.gets(); got != 2 {
		t.Errorf("expected exactly 2 reads, got %d", got)
	}
	if elapsed < 100*time.Millisecond || elapsed >= 300*time.Millisecond {
		t.Errorf("expected 100ms <= elapsed < 300ms, got %v", elapsed)
	}
}

func TestVerify_NeverFoundTiming(t *testing.T) {
	store := seeded(-1)
	v := newTestVerifier(store, ReadinessConfig{MaxAttempts: 2, InitialDelay: 50 * time.Millisecond})

	start := time.Now()
	err := v.Verify(context.Background(), testID)
	elapsed := time.Since(start)

	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("expected *NotReadyError, got %v", err)
	}
	if got := store.gets(); got != 2 {
		t.Errorf("expected exactly 2 reads, got %d", got)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("expected elapsed >= 50ms, got %v", elapsed)
	}
}

func TestVerifyWith_OverridesBudget(t *testing.T) {
	var delays []time.Duration
	store := seeded(-1)
	v := newTestVerifier(store, ReadinessConfig{Sleep: recordingSleep(&delays)})

	if v.Config().MaxAttempts != DefaultVerifyAttempts || v.Config().InitialDelay != DefaultVerifyInitialDelay {
		t.Fatalf("unexpected defaults %+v", v.Config())
	}

	_ = v.VerifyWith(context.Background(), testID, 3, 7*time.Millisecond)
	if got := store.gets(); got != 3 {
		t.Errorf("expected 3 reads, got %d", got)
	}
	if want := []time.Duration{7 * time.Millisecond, 14 * time.Millisecond}; !slices.Equal(delays, want) {
		t.Errorf("expected %v, got %v", want, delays)
	}
}

func TestVerifier_BypassesCache(t *testing.T) {
	probe := newProbeStore()
	probe.visibleAfter = -1
	cached := NewCachedStore(probe, time.Minute)

	s := &Session{ID: testID, Values: map[string]any{}, ExpiresAt: time.Now().Add(time.Hour)}
	if err := cached.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := cached.Get(context.Background(), testID); got == nil {
		t.Fatal("expected the cache to answer")
	}
	readsBefore := probe.gets()

	v := newTestVerifier(cached, ReadinessConfig{MaxAttempts: 2, Sleep: noSleep})
	if err := v.Verify(context.Background(), testID); !errors.Is(err, ErrSessionNotReady) {
		t.Fatalf("a cache hit must not count as ready, got %v", err)
	}
	if got := probe.gets() - readsBefore; got != 2 {
		t.Errorf("expected 2 direct reads, got %d", got)
	}
}

func TestReadinessConfig_Backoff(t *testing.T) {
	cfg := ReadinessConfig{InitialDelay: 100 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{10, 25600 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	var total time.Duration
	for k := 2; k <= DefaultVerifyAttempts; k++ {
		total += cfg.Backoff(k)
	}
	if total != 51100*time.Millisecond {
		t.Errorf("expected default worst case of 51.1s, got %v", total)
	}

	capped := ReadinessConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	if got := capped.Backoff(5); got != 300*time.Millisecond {
		t.Errorf("expected MaxDelay cap, got %v", got)
	}

	if got := cfg.Backoff(200); got <= 0 {
		t.Errorf("backoff overflowed to %v", got)
	}
}

func TestInitState_String(t *testing.T) {
	states := []InitState{StateUninitialized, StateRegenerating, StatePersisting, StateVerifying, StateReady, StateFailed}
	seen := map[string]bool{}
	for _, s := range states {
		seen[s.String()] = true
		if s.Terminal() != (s == StateReady || s == StateFailed) {
			t.Errorf("%v: unexpected Terminal()", s)
		}
	}
	if len(seen) != len(states) {
		t.Errorf("state names are not distinct: %v", seen)
	}
}
