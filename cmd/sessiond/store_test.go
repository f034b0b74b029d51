package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Morditux/sessionkit"
	"github.com/Morditux/sessionkit/internal/config"
)

func TestOpenStore(t *testing.T) {
	session := config.SessionConfig{TTL: time.Hour}

	t.Run("sqlite", func(t *testing.T) {
		store, err := openStore(config.StoreConfig{
			Driver: config.DriverSQLite,
			DSN:    filepath.Join(t.TempDir(), "sessions.db"),
		}, session)
		require.NoError(t, err)
		defer store.Close()
		require.IsType(t, &sessionkit.SQLiteStore{}, store)
	})

	t.Run("redis with cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := openStore(config.StoreConfig{
			Driver:    config.DriverRedis,
			RedisAddr: mr.Addr(),
			CacheTTL:  time.Second,
		}, session)
		require.NoError(t, err)
		defer store.Close()

		cached, ok := store.(*sessionkit.CachedStore)
		require.True(t, ok)
		require.IsType(t, &sessionkit.RedisStore{}, cached.Direct())
	})

	t.Run("memcached", func(t *testing.T) {
		store, err := openStore(config.StoreConfig{
			Driver:  config.DriverMemcached,
			Servers: []string{"127.0.0.1:11211"},
		}, session)
		require.NoError(t, err)
		require.IsType(t, &sessionkit.MemcachedStore{}, store)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openStore(config.StoreConfig{Driver: "mongo"}, session)
		require.Error(t, err)
	})
}
