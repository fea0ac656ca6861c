// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// DB is the single-writer transactional relational store described in
// spec.md §4.1. It wraps *sql.DB and layers a context-scoped
// transaction helper on top so nested component operations compose
// onto one outer transaction instead of opening a second *sql.Tx.
type DB struct {
	sql *sql.DB
}

type txKey struct{}

// execer is satisfied by both *sql.DB and *sql.Tx, letting repository
// code run the same statement whether or not it is inside a
// Transaction call.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the SQLite-backed store at path and applies schema
// migrations idempotently.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// SQLite has exactly one writer; keep the pool to one connection so
	// every write genuinely serializes through this handle.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.sql.Close() }

// conn returns the execer to use for this call: the transaction
// attached to ctx if one is open, otherwise the raw *sql.DB.
func (db *DB) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db.sql
}

func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn(ctx).ExecContext(ctx, query, args...)
}

func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn(ctx).QueryContext(ctx, query, args...)
}

func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn(ctx).QueryRowContext(ctx, query, args...)
}

// InTransaction reports whether ctx already carries an open transaction.
func InTransaction(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok && tx != nil
}

// Transaction runs fn inside one transaction. A call nested inside an
// already-open Transaction (detected via ctx) reuses a SAVEPOINT on the
// outer transaction instead of opening a second *sql.Tx, so repository
// methods can freely call one another without caring whether they are
// the outermost caller.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return db.savepoint(ctx, tx, fn)
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin transaction", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apperr.Storage("rollback after error", errors.Join(err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit transaction", err)
	}
	return nil
}

var savepointSeq int

func (db *DB) savepoint(ctx context.Context, tx *sql.Tx, fn func(ctx context.Context) error) error {
	savepointSeq++
	name := fmt.Sprintf("sp_%d", savepointSeq)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return apperr.Storage("create savepoint", err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return apperr.Storage("rollback savepoint", errors.Join(err, rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return apperr.Storage("release savepoint", err)
	}
	return nil
}

// IsUniqueViolation reports whether err stems from a UNIQUE constraint
// failure, and if so on which column (best-effort parse of the
// sqlite3 driver's error message, e.g. "UNIQUE constraint failed:
// objects.source_uri").
func IsUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	if column == "" {
		return true
	}
	return strings.Contains(sqliteErr.Error(), column)
}
