package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessiond.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, EnvDevelopment, cfg.Server.Env)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "sessions.db", cfg.Store.DSN)
	require.Equal(t, 24*time.Hour, cfg.Session.TTL)
	require.Equal(t, "session_id", cfg.Session.CookieName)
	require.Equal(t, 10, cfg.Readiness.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Readiness.InitialDelay)
	require.Len(t, cfg.CSRF.Secret, 2*MinCSRFSecretBytes, "development gets a generated secret")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"

[store]
driver = "redis"
redis_addr = "cache:6379"
redis_replica_addr = "cache-replica:6379"
cache_ttl = "2s"

[readiness]
max_attempts = 4
initial_delay = "250ms"
max_delay = "1s"

[cors]
frontend_url = "https://shop.example.com/"
extra_origins = ["https://admin.example.com", " "]

[[users]]
id = "u1"
login = "alice"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
roles = ["admin"]
`)

	t.Setenv("SESSIOND_ADDR", ":9100")
	t.Setenv("SESSIOND_VERIFY_MAX_ATTEMPTS", "6")
	t.Setenv("SESSIOND_SESSION_SAME_SITE", "strict")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, DriverRedis, cfg.Store.Driver)
	require.Equal(t, "cache-replica:6379", cfg.Store.RedisReplicaAddr)
	require.Equal(t, 2*time.Second, cfg.Store.CacheTTL)
	require.Equal(t, 6, cfg.Readiness.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Readiness.InitialDelay)
	require.Equal(t, time.Second, cfg.Readiness.MaxDelay)
	require.Equal(t, "strict", cfg.Session.SameSite)
	require.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.AllowedOrigins())
	require.Len(t, cfg.Users, 1)
	require.Equal(t, []string{"admin"}, cfg.Users[0].Roles)
}

func TestLoadProductionRequirements(t *testing.T) {
	t.Run("missing csrf secret", func(t *testing.T) {
		path := writeConfig(t, `
[server]
env = "production"
[cors]
frontend_url = "https://shop.example.com"
`)
		_, err := Load(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "csrf.secret")
	})

	t.Run("missing frontend url", func(t *testing.T) {
		path := writeConfig(t, `
[server]
env = "production"
`)
		t.Setenv("SESSIOND_CSRF_SECRET", strings.Repeat("s", MinCSRFSecretBytes))
		_, err := Load(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "frontend_url")
	})

	t.Run("complete", func(t *testing.T) {
		path := writeConfig(t, `
[server]
env = "production"
[cors]
frontend_url = "https://shop.example.com"
`)
		t.Setenv("SESSIOND_CSRF_SECRET", strings.Repeat("s", MinCSRFSecretBytes))
		cfg, err := Load(path)
		require.NoError(t, err)
		require.True(t, cfg.Session.Secure, "production forces secure cookies")
		require.Equal(t, "info", cfg.Log.Level)
	})
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown driver", "[store]\ndriver = \"mongo\"\n", "unknown driver"},
		{"unknown env", "[server]\nenv = \"staging\"\n", "unknown environment"},
		{"bad same site", "[session]\nsame_site = \"sometimes\"\n", "same_site"},
		{"postgres without dsn", "[store]\ndriver = \"postgres\"\n", "store.dsn"},
		{"zero attempts", "[readiness]\nmax_attempts = -1\n", "max_attempts"},
		{"bad frontend", "[cors]\nfrontend_url = \"not a url\"\n", "frontend_url"},
		{"duplicate login", `
[[users]]
id = "1"
login = "bob"
password_hash = "x"
[[users]]
id = "2"
login = "bob"
password_hash = "y"
`, "duplicate login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExampleFileLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.toml")
	require.NoError(t, ExampleFile(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins())
}
