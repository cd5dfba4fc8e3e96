package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/randalmurphal/verity/internal/db/driver"
)

// TxOps provides database operations within a transaction.
// The context is stored and used for all operations, enabling cancellation
// to propagate through the whole unit of work.
type TxOps struct {
	tx        driver.Tx
	dialect   driver.Dialect
	forUpdate string
	ctx       context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, query, args...)
}

// Query executes a query within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, query, args...)
}

// QueryRow executes a single-row query within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

// Context returns the transaction's context.
func (t *TxOps) Context() context.Context {
	return t.ctx
}

// Dialect returns the database dialect.
func (t *TxOps) Dialect() driver.Dialect {
	return t.dialect
}

// RunInTx executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back and the error is
// returned unchanged so callers can inspect coded errors.
// If fn returns nil, the transaction is committed.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := d.driver.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txOps := &TxOps{
		tx:        tx,
		dialect:   d.driver.Dialect(),
		forUpdate: d.driver.ForUpdate(),
		ctx:       ctx,
	}

	if err := fn(txOps); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
