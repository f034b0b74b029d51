package sessionkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	name: "postgresql",
	schema: `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		data BYTEA,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON sessions(expires_at);
	`,
	save: `
		INSERT INTO sessions (id, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(id) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at
	`,
	get:     "SELECT data, created_at, expires_at FROM sessions WHERE id = $1 AND expires_at > $2",
	delete:  "DELETE FROM sessions WHERE id = $1",
	cleanup: "DELETE FROM sessions WHERE expires_at < $1",
}

// PostgreSQLStore persists sessions in a PostgreSQL table.
type PostgreSQLStore struct {
	*sqlStatements
}

// PostgreSQLConfig holds configuration for the PostgreSQL store.
type PostgreSQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPostgreSQLStore creates a new PostgreSQL store with default configuration.
func NewPostgreSQLStore(dsn string) (*PostgreSQLStore, error) {
	return NewPostgreSQLStoreWithConfig(PostgreSQLConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	})
}

// NewPostgreSQLStoreWithConfig creates a new PostgreSQL store with custom configuration.
func NewPostgreSQLStoreWithConfig(cfg PostgreSQLConfig) (*PostgreSQLStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}
	poolConfig{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
		maxIdleTime: cfg.ConnMaxIdleTime,
	}.apply(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}

	st, err := postgresDialect.prepare(db)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLStore{sqlStatements: st}, nil
}

func (s *PostgreSQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var r row
	err := s.getStmt.QueryRowContext(ctx, id, time.Now()).Scan(&r.data, &r.createdAt, &r.expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found or expired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return r.session(id)
}

func (s *PostgreSQLStore) Save(ctx context.Context, session *Session) error {
	blob, release, err := payload(session)
	if err != nil {
		return err
	}
	defer release()
	return s.exec(ctx, s.saveStmt, "save session", session.ID, blob, session.CreatedAt, session.ExpiresAt)
}

func (s *PostgreSQLStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, s.deleteStmt, "delete session", id)
}

func (s *PostgreSQLStore) Cleanup(ctx context.Context) error {
	return s.exec(ctx, s.cleanupStmt, "cleanup expired sessions", time.Now())
}
