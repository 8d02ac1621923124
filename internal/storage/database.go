package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// Querier is satisfied by both *DB and *Tx so helpers can run inside or
// outside a transaction.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB represents a wrapper around the SQL database connection.
// Writes are serialized; a single connection is kept so that ":memory:"
// databases are shared by every caller.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// Open creates a new database connection and ensures the schema exists.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.Init(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Init creates every table and index that does not exist yet.
func (db *DB) Init(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return initSchema(ctx, db.conn)
}

// Reset drops all tables and recreates an empty schema.
func (db *DB) Reset(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+tables[i]); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", tables[i], err)
			}
		}
		return initSchema(ctx, tx.tx)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func initSchema(ctx context.Context, e execer) error {
	for _, stmt := range createStatements {
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Query runs a query returning any number of rows. The caller closes them.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// Tx is a transaction handed to the WithTx callback. It must not escape it.
type Tx struct {
	tx *sql.Tx
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryRow runs a single row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Query runs a multi row query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// WithTx runs fn as one atomic unit. The transaction is committed when fn
// returns nil and rolled back otherwise, including when fn panics. fn must only use the given Tx;
// calling back into the DB would block on the write lock.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DateString renders an epoch seconds column as local "2006-01-02 15:04:05".
func DateString(epoch int64) string {
	return time.Unix(epoch, 0).Local().Format("2006-01-02 15:04:05")
}
