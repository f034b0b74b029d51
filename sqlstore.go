package sessionkit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqlDialect carries the statements that differ between SQL backends.
type sqlDialect struct {
	name    string
	schema  string
	save    string
	get     string
	delete  string
	cleanup string
}

// sqlStatements is the prepared statement set shared by the SQL stores.
type sqlStatements struct {
	db          *sql.DB
	saveStmt    *sql.Stmt
	getStmt     *sql.Stmt
	deleteStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
}

type poolConfig struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func (p poolConfig) apply(db *sql.DB) {
	if p.maxOpen > 0 {
		db.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle > 0 {
		db.SetMaxIdleConns(p.maxIdle)
	}
	if p.maxLifetime > 0 {
		db.SetConnMaxLifetime(p.maxLifetime)
	}
	if p.maxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.maxIdleTime)
	}
}

// prepare creates the sessions table and prepares every statement. On
// failure the database handle is closed.
func (d sqlDialect) prepare(db *sql.DB) (*sqlStatements, error) {
	if _, err := db.Exec(d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	st := &sqlStatements{db: db}
	steps := []struct {
		name  string
		query string
		dst   **sql.Stmt
	}{
		{"save", d.save, &st.saveStmt},
		{"get", d.get, &st.getStmt},
		{"delete", d.delete, &st.deleteStmt},
		{"cleanup", d.cleanup, &st.cleanupStmt},
	}
	for _, step := range steps {
		stmt, err := db.Prepare(step.query)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to prepare %s %s statement: %w", d.name, step.name, err)
		}
		*step.dst = stmt
	}
	return st, nil
}

// row is the raw column projection of a session record.
type row struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

func (r row) session(id string) (*Session, error) {
	values, err := decodeValues(r.data)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Values:    values,
		CreatedAt: r.createdAt,
		ExpiresAt: r.expiresAt,
	}, nil
}

// payload returns the column value for a session: NULL for empty sessions,
// otherwise the gob encoding (reusing the Manager's pre-encoded bytes when present).
// release must be called once the bytes have been written.
func payload(session *Session) (blob []byte, release func(), err error) {
	release = func() {}
	if len(session.Values) == 0 {
		return nil, release, nil
	}
	if session.encoded != nil {
		return session.encoded, release, nil
	}
	buf, err := encodeGob(session.Values)
	if err != nil {
		return nil, release, err
	}
	return buf.Bytes(), func() { PutBuffer(buf) }, nil
}

func (st *sqlStatements) exec(ctx context.Context, stmt *sql.Stmt, what string, args ...any) error {
	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

func (st *sqlStatements) Close() error {
	for _, stmt := range []*sql.Stmt{st.saveStmt, st.getStmt, st.deleteStmt, st.cleanupStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return st.db.Close()
}
