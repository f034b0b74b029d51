package sessionkit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		data BLOB,
		created_at DATETIME,
		expires_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON sessions(expires_at);
	`,
	save: `
		INSERT INTO sessions (id, data, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at
	`,
	get:     "SELECT data, created_at, expires_at FROM sessions WHERE id = ? AND expires_at > ?",
	delete:  "DELETE FROM sessions WHERE id = ?",
	cleanup: "DELETE FROM sessions WHERE expires_at < ?",
}

// SQLiteStore persists sessions in an embedded, CGO-free SQLite database.
type SQLiteStore struct {
	*sqlStatements
	mu              sync.Mutex // Serializes writes to avoid SQLITE_BUSY
	maxSessionBytes int
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxSessionBytes int
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{
		DSN:          dsn,
		MaxOpenConns: 16, // readers run concurrently, writers are serialized by mu
		MaxIdleConns: 16,
	})
}

func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	// Every pooled connection to ":memory:" is a distinct database.
	if strings.HasPrefix(cfg.DSN, ":memory:") {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	// PRAGMAs go into the DSN so that they apply to every pooled connection.
	cfg.DSN = withPragma(cfg.DSN, "synchronous", "NORMAL")
	cfg.DSN = withPragma(cfg.DSN, "busy_timeout", "5000")

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	poolConfig{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
	}.apply(db)

	// journal_mode is persistent for the database file, once is enough.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	st, err := sqliteDialect.prepare(db)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStatements: st, maxSessionBytes: cfg.MaxSessionBytes}, nil
}

func withPragma(dsn, name, value string) string {
	if strings.Contains(dsn, name) {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=%s=%s", dsn, separator, name, value)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var data sql.RawBytes
	var r row

	rows, err := s.getStmt.QueryContext(ctx, id, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate rows: %w", err)
		}
		return nil, nil // Not found or expired
	}

	if err := rows.Scan(&data, &r.createdAt, &r.expiresAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if s.maxSessionBytes > 0 && len(data) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}

	// RawBytes is only valid until the next Scan/Close; decoding consumes it here.
	r.data = data
	return r.session(id)
}

func (s *SQLiteStore) Save(ctx context.Context, session *Session) error {
	blob, release, err := payload(session)
	if err != nil {
		return err
	}
	defer release()

	if s.maxSessionBytes > 0 && len(blob) > s.maxSessionBytes {
		return ErrSessionTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(ctx, s.saveStmt, "save session", session.ID, blob, session.CreatedAt, session.ExpiresAt)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(ctx, s.deleteStmt, "delete session", id)
}

func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(ctx, s.cleanupStmt, "cleanup expired sessions", time.Now())
}
