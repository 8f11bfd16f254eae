// Package engine executes registry-named and inline SQL over database/sql,
// normalizing :name parameters to the dialect's placeholder style and handing
// results back as mapping.Row values. Registry queries are trusted; inline
// SQL goes through the configured sanitizer.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rowquery/rowquery-go/adapters"
	"github.com/rowquery/rowquery-go/internal/debug"
	"github.com/rowquery/rowquery-go/mapping"
	"github.com/rowquery/rowquery-go/registry"
)

// Engine is a synchronous query engine. It is safe for concurrent use.
type Engine struct {
	db      *sql.DB
	dialect adapters.Dialect
	reg     *registry.Registry
	san     *Sanitizer

	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

// Option configures an Engine.
type Option func(*Engine)

// WithSanitizer replaces the sanitizer applied to inline SQL.
func WithSanitizer(s *Sanitizer) Option {
	return func(e *Engine) { e.san = s }
}

// New builds an Engine over an open database handle.
func New(db *sql.DB, dialect adapters.Dialect, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		dialect: dialect,
		reg:     reg,
		san:     DefaultSanitizer(),
		stmts:   make(map[string]*sql.Stmt),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's query registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// DB returns the underlying database handle.
func (e *Engine) DB() *sql.DB { return e.db }

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() adapters.Dialect { return e.dialect }

// Close invalidates the statement cache and closes the database handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	for _, stmt := range e.stmts {
		stmt.Close()
	}
	e.stmts = make(map[string]*sql.Stmt)
	e.mu.Unlock()
	return e.db.Close()
}

// stmt returns a prepared statement for sqlText, preparing and caching it on
// first use.
func (e *Engine) stmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	e.mu.RLock()
	stmt, ok := e.stmts[sqlText]
	e.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if stmt, ok := e.stmts[sqlText]; ok {
		return stmt, nil
	}
	stmt, err := e.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	e.stmts[sqlText] = stmt
	debug.Debug("statement prepared", "cached", len(e.stmts))
	return stmt, nil
}

// resolve looks a query up in the registry and normalizes its parameters.
func (e *Engine) resolve(name string, params map[string]any) (string, []any, error) {
	sqlText, err := e.reg.Get(name)
	if err != nil {
		return "", nil, err
	}
	normalized, args, err := Normalize(sqlText, e.dialect.Placeholder, params)
	if err != nil {
		return "", nil, fmt.Errorf("query %q: %w", name, err)
	}
	return normalized, args, nil
}

// FetchOne runs a registry query expected to match at most one row. It
// returns nil on zero rows and ErrMultipleRows past one.
func (e *Engine) FetchOne(ctx context.Context, name string, params map[string]any) (mapping.Row, error) {
	rows, err := e.FetchAll(ctx, name, params)
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

// FetchAll runs a registry query and returns every matching row.
func (e *Engine) FetchAll(ctx context.Context, name string, params map[string]any) ([]mapping.Row, error) {
	sqlText, args, err := e.resolve(name, params)
	if err != nil {
		return nil, err
	}
	return e.queryRows(ctx, name, sqlText, args)
}

// FetchScalar runs a registry query and returns the first column of the
// first row, or nil when no row matches.
func (e *Engine) FetchScalar(ctx context.Context, name string, params map[string]any) (any, error) {
	sqlText, args, err := e.resolve(name, params)
	if err != nil {
		return nil, err
	}
	stmt, err := e.stmt(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	return values[0], nil
}

// Exec runs a registry write query and returns the affected row count.
func (e *Engine) Exec(ctx context.Context, name string, params map[string]any) (int64, error) {
	sqlText, args, err := e.resolve(name, params)
	if err != nil {
		return 0, err
	}
	stmt, err := e.stmt(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", name, err)
	}
	debug.Debug("exec", "query", name, "rows_affected", n)
	return n, nil
}

// FetchAllSQL runs an inline SQL string through the sanitizer, then executes
// it like FetchAll.
func (e *Engine) FetchAllSQL(ctx context.Context, sqlText string, params map[string]any) ([]mapping.Row, error) {
	clean, err := e.san.Sanitize(sqlText)
	if err != nil {
		return nil, err
	}
	normalized, args, err := Normalize(clean, e.dialect.Placeholder, params)
	if err != nil {
		return nil, err
	}
	return e.queryRows(ctx, "(inline)", normalized, args)
}

// ExecSQL runs an inline write statement through the sanitizer.
func (e *Engine) ExecSQL(ctx context.Context, sqlText string, params map[string]any) (int64, error) {
	clean, err := e.san.Sanitize(sqlText)
	if err != nil {
		return 0, err
	}
	normalized, args, err := Normalize(clean, e.dialect.Placeholder, params)
	if err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx, normalized, args...)
	if err != nil {
		return 0, fmt.Errorf("exec inline sql: %w", err)
	}
	return res.RowsAffected()
}

func (e *Engine) queryRows(ctx context.Context, name, sqlText string, args []any) ([]mapping.Row, error) {
	stmt, err := e.stmt(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	debug.Debug("query", "name", name, "rows", len(out))
	return out, nil
}

// scanRows drains a result set into mapping rows.
func scanRows(rows *sql.Rows) ([]mapping.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []mapping.Row
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(mapping.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// One runs FetchOne and maps the row through m. The boolean reports whether
// a row matched.
func One[T any](ctx context.Context, e *Engine, m mapping.Mapper[T], name string, params map[string]any) (T, bool, error) {
	var zero T
	row, err := e.FetchOne(ctx, name, params)
	if err != nil || row == nil {
		return zero, false, err
	}
	v, err := m.MapOne(row)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// All runs FetchAll and maps the rows through m.
func All[T any](ctx context.Context, e *Engine, m mapping.Mapper[T], name string, params map[string]any) ([]T, error) {
	rows, err := e.FetchAll(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return m.MapMany(rows)
}
