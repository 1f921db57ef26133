// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database, it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. For a single-node
// CRUD site it is all we need, and ":memory:" gives every test its own database.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of the SQLite C code, no C compiler needed, works
// everywhere Go works.
//
// WHY sqlx ON TOP OF database/sql?
// sqlx keeps the database/sql API (ExecContext, QueryRowContext, transactions)
// and adds GetContext/SelectContext, which scan rows straight into structs using
// the `db:"..."` tags on our models. That removes the long, order-sensitive
// Scan(&a, &b, &c, ...) lists that are easy to get wrong.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	// Importing the driver runs its init(), which registers a database/sql driver
	// named "sqlite". We also use its Error type to recognise constraint failures.
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sqlx.DB connection pool and hands out the per-table repositories.
type DB struct {
	conn *sqlx.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/todo.db"  → file-based database (persistent)
//   - ":memory:"      → in-memory database (great for tests, lost on close)
//
// CONNECTION PRAGMAS:
// PRAGMAs are per-connection, but database/sql keeps a pool of connections.
// Running "PRAGMA foreign_keys=ON" once would only configure whichever connection
// happened to run it. modernc.org/sqlite accepts `_pragma=` query parameters in the
// DSN and applies them to every connection it opens, so we put them there.
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:"

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !memory {
		// WAL mode allows concurrent reads WHILE a write is happening.
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a brand new, empty database.
	// Pinning the pool to one connection keeps the schema visible to all queries.
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the user (credential) repository.
func (db *DB) Users() *UserDB { return &UserDB{conn: db.conn} }

// Todos returns the todo repository.
func (db *DB) Todos() *TodoDB { return &TodoDB{conn: db.conn} }

// Sessions returns the session repository.
func (db *DB) Sessions() *SessionDB { return &SessionDB{conn: db.conn} }

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start.
//
// SCHEMA NOTES:
//   - user_todos is the owner's ordered todo-ID list. todo_id deliberately has no
//     foreign key: deleting a todo leaves a dangling entry that readers skip.
//     Deleting a user cascades to the list, the todos and the sessions.
//   - email is unique regardless of case.
//   - github_id is nullable; SQLite UNIQUE allows any number of NULLs.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL DEFAULT '',
			avatar        TEXT NOT NULL DEFAULT 'default.jpg',
			reset_token   INTEGER NOT NULL DEFAULT 0,
			github_id     INTEGER UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS todos (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_todos_user_id ON todos(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating todos table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user_todos (
			user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			todo_id  TEXT NOT NULL,
			PRIMARY KEY (user_id, position)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating user_todos table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}

// uniqueViolation reports which column a UNIQUE constraint failure was on,
// e.g. "username" for "UNIQUE constraint failed: users.username".
// It returns "" when err is not a UNIQUE violation.
func uniqueViolation(err error) string {
	const marker = "UNIQUE constraint failed: "
	msg, ok := constraintMessage(err)
	if !ok {
		return ""
	}
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if end := strings.IndexAny(rest, " ,("); end >= 0 {
		rest = rest[:end]
	}
	if dot := strings.Index(rest, "."); dot >= 0 {
		rest = rest[dot+1:]
	}
	if rest == "" {
		return "record"
	}
	return rest
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func isForeignKeyViolation(err error) bool {
	msg, ok := constraintMessage(err)
	return ok && strings.Contains(msg, "FOREIGN KEY constraint failed")
}

// constraintMessage returns the driver message when err is an SQLITE_CONSTRAINT
// error. The low byte of an extended result code is its primary code.
func constraintMessage(err error) (string, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return "", false
	}
	return sqliteErr.Error(), true
}
