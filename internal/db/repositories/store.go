// store.go provides the transaction-aware database handle shared by every repository.
// A transaction opened by RunInTx travels in the context, so repository methods called
// with that context join it without any change to their signatures.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fieldops/fieldops/internal/apperr"
)

type txKey struct{}

// DB wraps the sqlx pool with context-carried transactions
type DB struct {
	db *sqlx.DB
}

// NewDB creates a new transaction-aware handle
func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Pool exposes the underlying pool for health checks and stats
func (d *DB) Pool() *sqlx.DB {
	return d.db
}

// RunInTx runs fn inside a single database transaction. The transaction commits when fn
// returns nil and rolls back otherwise. A call made with a context that already carries a
// transaction joins it.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ext returns the transaction in ctx, or the pool when there is none
func (d *DB) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return d.db
}

// inTx reports whether ctx carries a transaction
func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// getOne runs a single-row query into dest. Not-found is reported as (false, nil).
func (d *DB) getOne(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, d.ext(ctx), dest, query, args...)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// forUpdate appends a row lock to query when running inside a transaction.
// Outside a transaction the lock would be released immediately, so it is omitted.
func forUpdate(ctx context.Context, query string) string {
	if inTx(ctx) {
		return query + " FOR UPDATE"
	}
	return query
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// sqlxSelect runs a multi-row query into dest on the handle bound to ctx
func sqlxSelect(ctx context.Context, d *DB, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, d.ext(ctx), dest, query, args...)
}

// requireRow turns an update or delete that touched nothing into apperr.ErrNotFound
func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, entity)
	}
	return nil
}

const uniqueViolation = "23505"

// uniqueErr maps a unique-constraint violation onto a domain error. Unknown constraints map
// to apperr.ErrConflict; anything that is not a unique violation is returned unchanged.
func uniqueErr(err error, byConstraint map[string]error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}
	if mapped, ok := byConstraint[pqErr.Constraint]; ok {
		return fmt.Errorf("%w: %s", mapped, pqErr.Constraint)
	}
	return fmt.Errorf("%w: %s", apperr.ErrConflict, pqErr.Constraint)
}
