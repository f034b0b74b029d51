package sessionkit

import (
	"testing"
	"time"
)

func TestMemcachedStore_Timeout(t *testing.T) {
	if got := NewMemcachedStore(time.Hour, "localhost:11211").client.Timeout; got != time.Second {
		t.Errorf("default timeout = %v, want 1s", got)
	}
	for _, timeout := range []time.Duration{0, 250 * time.Millisecond} {
		store := NewMemcachedStoreWithConfig(MemcachedConfig{
			Servers: []string{"localhost:11211"},
			TTL:     time.Hour,
			Timeout: timeout,
		})
		if store.client.Timeout != timeout {
			t.Errorf("timeout = %v, want %v", store.client.Timeout, timeout)
		}
	}
}

func TestCalculateMemcachedExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const day = 24 * time.Hour

	tests := []struct {
		name      string
		expiresAt time.Time
		ttl       time.Duration
		want      int32
	}{
		{"store ttl as delta", time.Time{}, day, 86400},
		{"session expiry wins over ttl", now.Add(15 * time.Minute), day, 900},
		{"thirty days is still a delta", time.Time{}, 30 * day, 30 * 86400},
		{"past thirty days becomes a timestamp", time.Time{}, 30*day + time.Second, int32(now.Add(30*day + time.Second).Unix())},
		{"long session expiry becomes a timestamp", now.Add(90 * day), time.Hour, int32(now.Add(90 * day).Unix())},
		{"already expired", now.Add(-time.Minute), day, -1},
		{"no expiry", time.Time{}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateMemcachedExpiration(now, tt.expiresAt, tt.ttl); got != tt.want {
				t.Errorf("calculateMemcachedExpiration() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMemcachedStore_KeyPrefix(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	if got := NewMemcachedStore(time.Hour).key(id); got != id {
		t.Errorf("key without prefix = %q", got)
	}
	store := NewMemcachedStoreWithConfig(MemcachedConfig{KeyPrefix: "shop:sess:", TTL: time.Hour})
	if got := store.key(id); got != "shop:sess:"+id {
		t.Errorf("key = %q", got)
	}
}
