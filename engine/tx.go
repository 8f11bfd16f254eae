package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rowquery/rowquery-go/internal/debug"
	"github.com/rowquery/rowquery-go/mapping"
)

type txState int

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	default:
		return "rolled back"
	}
}

// Tx runs registry queries atomically. It is single-goroutine; commit or
// rollback exactly once, after which every operation fails with ErrTxState.
type Tx struct {
	tx    *sql.Tx
	e     *Engine
	state txState
}

// Begin starts a transaction.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, e: e}, nil
}

// Transact runs fn inside a transaction: rollback when fn errors, commit
// otherwise. Explicit Commit/Rollback inside fn is honored.
func (e *Engine) Transact(ctx context.Context, fn func(*Tx) error) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if tx.state == txActive {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		}
		return err
	}
	if tx.state == txActive {
		return tx.Commit()
	}
	return nil
}

func (t *Tx) checkActive(action string) error {
	if t.state != txActive {
		return &TxStateError{State: t.state.String(), Action: action}
	}
	return nil
}

// Exec runs a registry write query inside the transaction and returns the
// affected row count.
func (t *Tx) Exec(ctx context.Context, name string, params map[string]any) (int64, error) {
	if err := t.checkActive("execute in"); err != nil {
		return 0, err
	}
	sqlText, args, err := t.e.resolve(name, params)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", name, err)
	}
	return res.RowsAffected()
}

// FetchOne runs a registry query inside the transaction. Same contract as
// Engine.FetchOne.
func (t *Tx) FetchOne(ctx context.Context, name string, params map[string]any) (mapping.Row, error) {
	rows, err := t.FetchAll(ctx, name, params)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("query %q: %w: got %d rows", name, ErrMultipleRows, len(rows))
	}
}

// FetchAll runs a registry query inside the transaction.
func (t *Tx) FetchAll(ctx context.Context, name string, params map[string]any) ([]mapping.Row, error) {
	if err := t.checkActive("query in"); err != nil {
		return nil, err
	}
	sqlText, args, err := t.e.resolve(name, params)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	return out, nil
}

// Commit commits the transaction. Committing a finished transaction fails
// with ErrTxState.
func (t *Tx) Commit() error {
	if t.state != txActive {
		return &TxStateError{State: t.state.String(), Action: "commit"}
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.state = txCommitted
	debug.Debug("transaction committed")
	return nil
}

// Rollback rolls the transaction back. Rolling back a committed transaction
// fails with ErrTxState; repeated rollback is a no-op.
func (t *Tx) Rollback() error {
	switch t.state {
	case txCommitted:
		return &TxStateError{State: t.state.String(), Action: "rollback"}
	case txRolledBack:
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	t.state = txRolledBack
	debug.Debug("transaction rolled back")
	return nil
}
