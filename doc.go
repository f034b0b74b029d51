/*
Package sessionkit provides server-side sessions for Go web applications
backed by a durable store, with a login sequence that only hands a session to
the client once the store can actually serve it back.

# Stores

  - SQLite: modernc.org/sqlite, CGO-free and embedded.
  - PostgreSQL: github.com/lib/pq.
  - Memcached: github.com/bradfitz/gomemcache.
  - Redis: github.com/redis/go-redis/v9, optionally reading from a replica.
  - CachedStore: an in-process read-through cache in front of any of the above.

# Readiness

Accepting a write is not the same as making it visible. Replicas lag, some
backends buffer, and a cache in front of the store proves nothing about other
processes. InitializeWithUser therefore runs

	regenerate -> SetUser -> Persist -> Verify

strictly in order. Verify polls the uncached store with exponential backoff
(100ms, 200ms, 400ms, ... by default, ten reads at most) and fails with a
*NotReadyError when the record never shows up. Dependent artifacts such as
CSRF tokens should only be derived after InitializeWithUser returns nil.

	store, err := sessionkit.NewSQLiteStore("sessions.db")
	if err != nil {
		log.Fatal(err)
	}
	mgr := sessionkit.NewManager(sessionkit.Config{
		Store: store,
		TTL:   24 * time.Hour,
		Readiness: sessionkit.ReadinessConfig{
			MaxAttempts:  10,
			InitialDelay: 100 * time.Millisecond,
		},
	})
	defer mgr.Close()

	http.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		// ... check credentials ...
		if _, err := mgr.InitializeWithUser(w, r, userID, roles); err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
	})

The backoff sleep honours the request context, so a client that disconnects
cancels its pending verification.

# Thread Safety

The Manager and Store implementations are safe for concurrent use by multiple
goroutines. A Session belongs to the request that loaded it; its accessor
methods are locked but the Values map must not be shared across requests.
*/
package sessionkit
