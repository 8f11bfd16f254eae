// Package repository bundles an engine with a mapper for DDD-oriented data
// access. Concrete repositories embed Repository[T] and add their own query
// methods on top of the generic fetch helpers.
package repository

import (
	"context"

	"github.com/rowquery/rowquery-go/engine"
	"github.com/rowquery/rowquery-go/mapping"
)

// Repository pairs an engine with the mapper for one aggregate or model
// type.
type Repository[T any] struct {
	Engine *engine.Engine
	Mapper mapping.Mapper[T]
}

// New builds a repository around an explicit mapper.
func New[T any](e *engine.Engine, m mapping.Mapper[T]) *Repository[T] {
	return &Repository[T]{Engine: e, Mapper: m}
}

// NewAggregate builds a repository whose mapper reconstructs aggregates from
// a compiled plan.
func NewAggregate[T any](e *engine.Engine, plan *mapping.AggregatePlan) (*Repository[T], error) {
	m, err := mapping.NewAggregateMapper[T](plan)
	if err != nil {
		return nil, err
	}
	return New[T](e, m), nil
}

// NewModel builds a repository with a flat row-per-value mapper.
func NewModel[T any](e *engine.Engine, aliases map[string]string) (*Repository[T], error) {
	m, err := mapping.NewModelMapper[T](aliases)
	if err != nil {
		return nil, err
	}
	return New[T](e, m), nil
}

// FindOne runs a registry query expected to match one row and maps it. The
// boolean reports whether a row matched.
//
// Aggregate mappers do not support single-row mapping; use Find with a
// query that constrains the root key instead.
func (r *Repository[T]) FindOne(ctx context.Context, query string, params map[string]any) (T, bool, error) {
	return engine.One(ctx, r.Engine, r.Mapper, query, params)
}

// Find runs a registry query and maps every resulting row group.
func (r *Repository[T]) Find(ctx context.Context, query string, params map[string]any) ([]T, error) {
	return engine.All(ctx, r.Engine, r.Mapper, query, params)
}

// Exec runs a registry write query and returns the affected row count.
func (r *Repository[T]) Exec(ctx context.Context, query string, params map[string]any) (int64, error) {
	return r.Engine.Exec(ctx, query, params)
}

// Transact runs fn in a transaction on the underlying engine.
func (r *Repository[T]) Transact(ctx context.Context, fn func(*engine.Tx) error) error {
	return r.Engine.Transact(ctx, fn)
}
