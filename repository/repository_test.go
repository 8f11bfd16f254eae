package repository_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowquery/rowquery-go/adapters"
	"github.com/rowquery/rowquery-go/engine"
	"github.com/rowquery/rowquery-go/mapping"
	"github.com/rowquery/rowquery-go/registry"
	"github.com/rowquery/rowquery-go/repository"
)

type order struct {
	ID    int64
	Total float64
}

type customer struct {
	ID     int64
	Name   string
	Orders []order
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()

	fsys := afero.NewMemMapFs()
	queries := map[string]string{
		"sql/customer/insert.sql":     "INSERT INTO customers (id, name) VALUES (:id, :name)",
		"sql/order/insert.sql":        "INSERT INTO orders (id, customer_id, total) VALUES (:id, :customer_id, :total)",
		"sql/customer/get.sql":        "SELECT id, name FROM customers WHERE id = :id",
		"sql/customer/with_order.sql": "SELECT c.id AS c__id, c.name AS c__name, o.id AS o__id, o.total AS o__total FROM customers c LEFT JOIN orders o ON o.customer_id = c.id ORDER BY c.id, o.id",
	}
	for path, sql := range queries {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(sql), 0o644))
	}
	reg, err := registry.Load(fsys, "sql")
	require.NoError(t, err)

	db, err := adapters.SQLite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, total REAL)")
	require.NoError(t, err)

	e := engine.New(db, adapters.SQLite, reg)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAggregateRepository(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	plan, err := mapping.Aggregate[customer]("c__").
		Key("id").
		Collection("Orders", mapping.Entity[order]("o__").Key("id")).
		Build()
	require.NoError(t, err)

	repo, err := repository.NewAggregate[customer](e, plan)
	require.NoError(t, err)

	_, err = repo.Exec(ctx, "customer.insert", map[string]any{"id": 1, "name": "acme"})
	require.NoError(t, err)
	for i, total := range []float64{10, 20} {
		_, err = repo.Exec(ctx, "order.insert", map[string]any{"id": i + 1, "customer_id": 1, "total": total})
		require.NoError(t, err)
	}

	customers, err := repo.Find(ctx, "customer.with_order", nil)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "acme", customers[0].Name)
	require.Len(t, customers[0].Orders, 2)
	assert.Equal(t, 10.0, customers[0].Orders[0].Total)
}

func TestModelRepository(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	type flat struct {
		ID   int64
		Name string
	}
	repo, err := repository.NewModel[flat](e, nil)
	require.NoError(t, err)

	_, err = repo.Exec(ctx, "customer.insert", map[string]any{"id": 5, "name": "n"})
	require.NoError(t, err)

	got, found, err := repo.FindOne(ctx, "customer.get", map[string]any{"id": 5})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "n", got.Name)

	_, found, err = repo.FindOne(ctx, "customer.get", map[string]any{"id": 6})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepository_Transact(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	type flat struct {
		ID   int64
		Name string
	}
	repo, err := repository.NewModel[flat](e, nil)
	require.NoError(t, err)

	err = repo.Transact(ctx, func(tx *engine.Tx) error {
		if _, err := tx.Exec(ctx, "customer.insert", map[string]any{"id": 1, "name": "a"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, found, err := repo.FindOne(ctx, "customer.get", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.False(t, found, "rolled back insert is invisible")
}
