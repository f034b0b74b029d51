// Package config loads sessiond configuration from an optional TOML file and
// SESSIOND_* environment overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMemcached = "memcached"
	DriverRedis     = "redis"
)

// MinCSRFSecretBytes is the shortest CSRF secret accepted in production.
const MinCSRFSecretBytes = 32

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Store     StoreConfig     `toml:"store"`
	Session   SessionConfig   `toml:"session"`
	Readiness ReadinessConfig `toml:"readiness"`
	CORS      CORSConfig      `toml:"cors"`
	CSRF      CSRFConfig      `toml:"csrf"`
	Users     []UserConfig    `toml:"users"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr" env:"SESSIOND_ADDR"`
	Env             string        `toml:"env" env:"SESSIOND_ENV"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SESSIOND_SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"SESSIOND_LOG_LEVEL"`
	Pretty bool   `toml:"pretty" env:"SESSIOND_LOG_PRETTY"`
}

type StoreConfig struct {
	Driver           string        `toml:"driver" env:"SESSIOND_STORE_DRIVER"`
	DSN              string        `toml:"dsn" env:"SESSIOND_STORE_DSN"`
	Servers          []string      `toml:"servers" env:"SESSIOND_MEMCACHED_SERVERS"`
	RedisAddr        string        `toml:"redis_addr" env:"SESSIOND_REDIS_ADDR"`
	RedisReplicaAddr string        `toml:"redis_replica_addr" env:"SESSIOND_REDIS_REPLICA_ADDR"`
	RedisPassword    string        `toml:"redis_password" env:"SESSIOND_REDIS_PASSWORD"`
	RedisDB          int           `toml:"redis_db" env:"SESSIOND_REDIS_DB"`
	KeyPrefix        string        `toml:"key_prefix" env:"SESSIOND_STORE_KEY_PREFIX"`
	CacheTTL         time.Duration `toml:"cache_ttl" env:"SESSIOND_STORE_CACHE_TTL"`
}

type SessionConfig struct {
	TTL             time.Duration `toml:"ttl" env:"SESSIOND_SESSION_TTL"`
	CookieName      string        `toml:"cookie_name" env:"SESSIOND_SESSION_COOKIE"`
	Secure          bool          `toml:"secure" env:"SESSIOND_SESSION_SECURE"`
	SameSite        string        `toml:"same_site" env:"SESSIOND_SESSION_SAME_SITE"`
	MaxBytes        int           `toml:"max_bytes" env:"SESSIOND_SESSION_MAX_BYTES"`
	CleanupInterval time.Duration `toml:"cleanup_interval" env:"SESSIOND_SESSION_CLEANUP_INTERVAL"`
}

type ReadinessConfig struct {
	MaxAttempts  int           `toml:"max_attempts" env:"SESSIOND_VERIFY_MAX_ATTEMPTS"`
	InitialDelay time.Duration `toml:"initial_delay" env:"SESSIOND_VERIFY_INITIAL_DELAY"`
	MaxDelay     time.Duration `toml:"max_delay" env:"SESSIOND_VERIFY_MAX_DELAY"`
}

type CORSConfig struct {
	FrontendURL  string   `toml:"frontend_url" env:"SESSIOND_FRONTEND_URL"`
	ExtraOrigins []string `toml:"extra_origins" env:"SESSIOND_CORS_EXTRA_ORIGINS"`
}

type CSRFConfig struct {
	Secret string `toml:"secret" env:"SESSIOND_CSRF_SECRET"`
}

// UserConfig is a static login. PasswordHash is a bcrypt hash.
type UserConfig struct {
	ID           string   `toml:"id"`
	Login        string   `toml:"login"`
	PasswordHash string   `toml:"password_hash"`
	Roles        []string `toml:"roles"`
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = EnvDevelopment
	}
	c.Server.Env = strings.ToLower(strings.TrimSpace(c.Server.Env))
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
		if c.IsDevelopment() {
			c.Log.Level = "debug"
		}
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = "sessions.db"
	}
	if c.Store.Driver == DriverMemcached && len(c.Store.Servers) == 0 {
		c.Store.Servers = []string{"127.0.0.1:11211"}
	}
	if c.Store.Driver == DriverRedis && c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}

	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "session_id"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "lax"
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = 10 * time.Minute
	}
	if c.IsProduction() {
		c.Session.Secure = true
	}

	if c.Readiness.MaxAttempts == 0 {
		c.Readiness.MaxAttempts = 10
	}
	if c.Readiness.InitialDelay == 0 {
		c.Readiness.InitialDelay = 100 * time.Millisecond
	}

	c.CORS.ExtraOrigins = normalizeOrigins(c.CORS.ExtraOrigins)
	c.CORS.FrontendURL = strings.TrimRight(strings.TrimSpace(c.CORS.FrontendURL), "/")

	// Outside production a per-process secret is fine: tokens simply do not
	// survive a restart.
	if c.CSRF.Secret == "" && !c.IsProduction() {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate csrf secret: %w", err)
		}
		c.CSRF.Secret = secret
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("server.env: unknown environment %q", c.Server.Env)
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case DriverMemcached:
		if len(c.Store.Servers) == 0 {
			return errors.New("store.servers is required for driver memcached")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for driver redis")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.CacheTTL < 0 {
		return errors.New("store.cache_ttl must not be negative")
	}

	switch strings.ToLower(c.Session.SameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("session.same_site: unknown mode %q", c.Session.SameSite)
	}
	if c.Session.TTL < 0 || c.Session.MaxBytes < 0 {
		return errors.New("session.ttl and session.max_bytes must not be negative")
	}

	if c.Readiness.MaxAttempts < 1 {
		return errors.New("readiness.max_attempts must be at least 1")
	}
	if c.Readiness.InitialDelay < 0 || c.Readiness.MaxDelay < 0 {
		return errors.New("readiness delays must not be negative")
	}

	if c.CORS.FrontendURL != "" {
		if u, err := url.Parse(c.CORS.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("cors.frontend_url: invalid origin %q", c.CORS.FrontendURL)
		}
	}

	if c.IsProduction() {
		if len(c.CSRF.Secret) < MinCSRFSecretBytes {
			return fmt.Errorf("csrf.secret must be at least %d bytes in production", MinCSRFSecretBytes)
		}
		if c.CORS.FrontendURL == "" {
			return errors.New("cors.frontend_url is required in production")
		}
	}

	seen := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		if u.ID == "" || u.Login == "" || u.PasswordHash == "" {
			return fmt.Errorf("users[%d]: id, login and password_hash are required", i)
		}
		if _, dup := seen[u.Login]; dup {
			return fmt.Errorf("users[%d]: duplicate login %q", i, u.Login)
		}
		seen[u.Login] = struct{}{}
	}
	return nil
}

// SameSiteMode maps same_site onto http.SameSite.
func (s SessionConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(s.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c *Config) IsDevelopment() bool { return c.Server.Env == EnvDevelopment }
func (c *Config) IsProduction() bool  { return c.Server.Env == EnvProduction }

// AllowedOrigins returns the production CORS allow-list.
func (c *Config) AllowedOrigins() []string {
	origins := make([]string, 0, len(c.CORS.ExtraOrigins)+1)
	if c.CORS.FrontendURL != "" {
		origins = append(origins, c.CORS.FrontendURL)
	}
	return append(origins, c.CORS.ExtraOrigins...)
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func randomSecret() (string, error) {
	b := make([]byte, MinCSRFSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ExampleFile writes a commented starting configuration to path.
func ExampleFile(path string) error {
	return os.WriteFile(path, []byte(exampleTOML), 0o600)
}

const exampleTOML = `[server]
addr = ":8080"
env = "development"

[log]
level = "debug"
pretty = true

[store]
driver = "sqlite"
dsn = "sessions.db"
# cache_ttl = "5s"

[session]
ttl = "24h"
cookie_name = "session_id"
same_site = "lax"

[readiness]
max_attempts = 10
initial_delay = "100ms"

[cors]
frontend_url = "http://localhost:5173"
`
