// Package database owns the Postgres connection pool, schema migrations,
// and transaction helpers. It is the only process-wide shared mutable state;
// pool size bounds request concurrency.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is returned by stores when a requested row is missing.
var ErrNotFound = errors.New("database: not found")

// Queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Domain stores accept a Queryer so the same query code runs standalone
// or inside an explicit transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps the pool with transaction helpers.
type DB struct {
	*sql.DB
	logger *log.Logger
}

// Open connects, configures the pool, and pings with a bounded deadline.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*DB, error) {
	sqlDB, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	db := &DB{
		DB:     sqlDB,
		logger: log.New(log.Writer(), "[DB] ", log.LstdFlags),
	}
	db.logger.Printf("✅ Connected to Postgres (max_open=%d max_idle=%d)", maxOpen, maxIdle)
	return db, nil
}

// WithTx runs fn inside a read-committed transaction, rolling back on error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

// WithSerializableTx runs fn at serializable isolation. Used for FEFO lot
// allocation where phantom lot rows would break the stock invariant.
func (db *DB) WithSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// WithSerializableRetry reruns fn when the transaction aborts with a
// serialization conflict, up to attempts tries. fn must keep all of its
// state inside the closure so a rerun starts clean.
func (db *DB) WithSerializableRetry(ctx context.Context, attempts int, fn func(tx *sql.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = db.WithSerializableTx(ctx, fn)
		if !IsSerializationFailure(err) || ctx.Err() != nil {
			return err
		}
		db.logger.Printf("⚠️ Serialization conflict, retrying (%d/%d)", i+1, attempts)
	}
	return err
}

func (db *DB) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Printf("⚠️ Rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique violation,
// optionally narrowed to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsSerializationFailure reports whether err is a serializable-isolation
// conflict worth retrying.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
