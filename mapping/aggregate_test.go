package mapping_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowquery/rowquery-go/mapping"
)

type Customer struct {
	ID   int64
	Name string
}

type Item struct {
	ID  int64
	Sku string
}

type Order struct {
	ID       int64
	Total    float64
	Customer *Customer
	Items    []Item
}

type Address struct {
	Street string
	City   string
}

type User struct {
	ID      int64
	Name    string
	Email   string
	Address *Address
	Orders  []Order
}

func userPlan(t *testing.T) *mapping.AggregatePlan {
	t.Helper()
	plan, err := mapping.Aggregate[User]("user__").
		Key("id").
		Collection("Orders", mapping.Entity[Order]("order__").Key("id")).
		Build()
	require.NoError(t, err)
	return plan
}

func TestMapMany_JoinFanOut(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	rows := []mapping.Row{
		{"user__id": int64(1), "user__name": "Alice", "user__email": "alice@ex.com", "order__id": int64(10), "order__total": 5.0},
		{"user__id": int64(1), "user__name": "Alice", "user__email": "alice@ex.com", "order__id": int64(11), "order__total": 7.0},
		{"user__id": int64(2), "user__name": "Bob", "user__email": "bob@ex.com", "order__id": nil, "order__total": nil},
	}

	users, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, users, 2)

	alice := users[0]
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, "Alice", alice.Name)
	require.Len(t, alice.Orders, 2)
	assert.Equal(t, int64(10), alice.Orders[0].ID)
	assert.Equal(t, 5.0, alice.Orders[0].Total)
	assert.Equal(t, int64(11), alice.Orders[1].ID)

	bob := users[1]
	assert.Equal(t, "Bob", bob.Name)
	require.NotNil(t, bob.Orders, "a root with no child rows still gets an empty collection")
	assert.Empty(t, bob.Orders)
}

func TestMapMany_RootOrderAndFirstRowWins(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	rows := []mapping.Row{
		{"user__id": int64(7), "user__name": "first", "user__email": "a@ex.com", "order__id": nil, "order__total": nil},
		{"user__id": int64(3), "user__name": "second", "user__email": "b@ex.com", "order__id": nil, "order__total": nil},
		{"user__id": int64(7), "user__name": "CHANGED", "user__email": "changed@ex.com", "order__id": int64(1), "order__total": 1.0},
	}

	users, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, int64(7), users[0].ID, "first-occurrence order, not key order")
	assert.Equal(t, int64(3), users[1].ID)
	assert.Equal(t, "first", users[0].Name, "fields of later duplicate rows never overwrite")
	require.Len(t, users[0].Orders, 1, "children from later rows still attach")
}

func TestMapMany_CollectionDedup(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	// Fan-out repeats each child key several times; the collection must hold
	// each distinct key once, in first-occurrence order.
	var rows []mapping.Row
	for n := 0; n < 3; n++ {
		for _, oid := range []int64{20, 10, 30} {
			rows = append(rows, mapping.Row{
				"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com",
				"order__id": oid, "order__total": float64(oid),
			})
		}
	}

	users, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Len(t, users[0].Orders, 3)
	assert.Equal(t, int64(20), users[0].Orders[0].ID)
	assert.Equal(t, int64(10), users[0].Orders[1].ID)
	assert.Equal(t, int64(30), users[0].Orders[2].ID)
}

func TestMapMany_ReferenceSharing(t *testing.T) {
	plan, err := mapping.Aggregate[Order]("order__").
		Key("id").
		Reference("Customer", mapping.Entity[Customer]("customer__").Key("id")).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[Order](plan)
	require.NoError(t, err)

	rows := []mapping.Row{
		{"order__id": int64(1), "order__total": 9.0, "customer__id": int64(5), "customer__name": "Ann"},
		{"order__id": int64(2), "order__total": 4.0, "customer__id": int64(5), "customer__name": "Ann"},
		{"order__id": int64(3), "order__total": 2.0, "customer__id": nil, "customer__name": nil},
	}

	orders, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	require.NotNil(t, orders[0].Customer)
	assert.Same(t, orders[0].Customer, orders[1].Customer,
		"equal reference keys resolve to the identical instance within one call")
	assert.Nil(t, orders[2].Customer, "all-null reference columns leave the attribute unset")

	again, err := m.MapMany(rows)
	require.NoError(t, err)
	assert.NotSame(t, orders[0].Customer, again[0].Customer,
		"separate calls never share instances")
}

func TestMapMany_ValueObject(t *testing.T) {
	plan, err := mapping.Aggregate[User]("user__").
		Key("id").
		ValueObject("Address", mapping.Entity[Address]("address__")).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[User](plan)
	require.NoError(t, err)

	rows := []mapping.Row{
		{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "address__street": "1 Main St", "address__city": "Springfield"},
		{"user__id": int64(2), "user__name": "Bob", "user__email": "b@ex.com", "address__street": nil, "address__city": nil},
		{"user__id": int64(3), "user__name": "Cara", "user__email": "c@ex.com", "address__street": "1 Main St", "address__city": "Springfield"},
	}

	users, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, users, 3)

	require.NotNil(t, users[0].Address)
	assert.Equal(t, "1 Main St", users[0].Address.Street)
	assert.Nil(t, users[1].Address, "absent exactly when every prefixed column is null")
	require.NotNil(t, users[2].Address)
	assert.Equal(t, *users[0].Address, *users[2].Address)
	assert.NotSame(t, users[0].Address, users[2].Address,
		"value objects are never shared, even when field values are equal")
}

func TestMapMany_NestedRecursion(t *testing.T) {
	plan, err := mapping.Aggregate[User]("user__").
		Key("id").
		Collection("Orders", mapping.Entity[Order]("order__").
			Key("id").
			Collection("Items", mapping.Entity[Item]("item__").Key("id")).
			Reference("Customer", mapping.Entity[Customer]("customer__").Key("id"))).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[User](plan)
	require.NoError(t, err)

	row := func(uid, oid, iid, cid int64) mapping.Row {
		return mapping.Row{
			"user__id": uid, "user__name": fmt.Sprintf("u%d", uid), "user__email": "x@ex.com",
			"order__id": oid, "order__total": 1.0,
			"item__id": iid, "item__sku": fmt.Sprintf("sku-%d", iid),
			"customer__id": cid, "customer__name": fmt.Sprintf("c%d", cid),
		}
	}

	// Item id 100 appears under two different orders of two different users:
	// dedup scope is the full ancestor chain, so each order keeps its own copy.
	rows := []mapping.Row{
		row(1, 10, 100, 5),
		row(1, 10, 101, 5),
		row(1, 11, 100, 5),
		row(2, 20, 100, 5),
		row(2, 20, 100, 5), // exact duplicate row
	}

	users, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, users, 2)

	u1 := users[0]
	require.Len(t, u1.Orders, 2)
	assert.Len(t, u1.Orders[0].Items, 2)
	assert.Len(t, u1.Orders[1].Items, 1)

	u2 := users[1]
	require.Len(t, u2.Orders, 1)
	assert.Len(t, u2.Orders[0].Items, 1)

	// The customer is shared across every order of every user in this call.
	require.NotNil(t, u1.Orders[0].Customer)
	assert.Same(t, u1.Orders[0].Customer, u1.Orders[1].Customer)
	assert.Same(t, u1.Orders[0].Customer, u2.Orders[0].Customer)
}

type pair struct {
	Region string
	Serial int64
	Label  string
}

type shipment struct {
	ID    int64
	Code  string
	Pairs []pair
}

func TestMapMany_CompositeKeys(t *testing.T) {
	plan, err := mapping.Aggregate[shipment]("s__").
		Key("id").
		Collection("Pairs", mapping.Entity[pair]("p__").Key("region", "serial")).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[shipment](plan)
	require.NoError(t, err)

	rows := []mapping.Row{
		{"s__id": int64(1), "s__code": "A", "p__region": "eu", "p__serial": int64(1), "p__label": "x"},
		{"s__id": int64(1), "s__code": "A", "p__region": "us", "p__serial": int64(1), "p__label": "y"},
		{"s__id": int64(1), "s__code": "A", "p__region": "eu", "p__serial": int64(1), "p__label": "dup"},
	}

	out, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Pairs, 2, "tuple identity distinguishes (eu,1) from (us,1)")
}

func TestMapMany_PartiallyNullKeyIsAmbiguous(t *testing.T) {
	plan, err := mapping.Aggregate[shipment]("s__").
		Key("id").
		Collection("Pairs", mapping.Entity[pair]("p__").Key("region", "serial")).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[shipment](plan)
	require.NoError(t, err)

	rows := []mapping.Row{
		{"s__id": int64(1), "s__code": "A", "p__region": "eu", "p__serial": nil, "p__label": nil},
	}

	_, err = m.MapMany(rows)
	require.Error(t, err)
	assert.ErrorIs(t, err, mapping.ErrAmbiguousKey)

	var merr *mapping.MappingError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "mapping_test.pair", merr.Target)
}

func TestMapMany_MissingKeyColumn(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	_, err = m.MapMany([]mapping.Row{{"user__name": "no id column"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, mapping.ErrMissingColumn)
}

type strictOrder struct {
	ID    int64
	Total float64
}

func (o *strictOrder) UnmarshalRow(fields mapping.Row) error {
	id, ok := fields["id"].(int64)
	if !ok {
		return fmt.Errorf("id must be an integer, got %T", fields["id"])
	}
	total, ok := fields["total"].(float64)
	if !ok {
		return fmt.Errorf("total must be a float, got %T", fields["total"])
	}
	o.ID, o.Total = id, total
	return nil
}

func TestMapMany_ConstructorRejection(t *testing.T) {
	plan, err := mapping.Aggregate[strictOrder]("o__").Key("id").Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[strictOrder](plan)
	require.NoError(t, err)

	_, err = m.MapMany([]mapping.Row{{"o__id": int64(1), "o__total": "not a number"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, mapping.ErrConstructor)
	assert.Contains(t, err.Error(), "total must be a float")

	// Atomic failure: a bad row anywhere aborts the whole call.
	_, err = m.MapMany([]mapping.Row{
		{"o__id": int64(1), "o__total": 1.0},
		{"o__id": int64(2), "o__total": "bad"},
	})
	require.Error(t, err)
}

func TestMapMany_NullRootKeyRowsSkipped(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	users, err := m.MapMany([]mapping.Row{
		{"user__id": nil, "user__name": "ghost", "user__email": "g@ex.com", "order__id": nil, "order__total": nil},
		{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "order__id": nil, "order__total": nil},
	})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].ID)
}

func TestMapMany_StrictMode(t *testing.T) {
	strictPlan := func(t *testing.T) *mapping.AggregatePlan {
		t.Helper()
		plan, err := mapping.Aggregate[User]("user__").
			Key("id").
			Fields("name", "email").
			Collection("Orders", mapping.Entity[Order]("order__").Key("id").Fields("total")).
			Strict().
			Build()
		require.NoError(t, err)
		return plan
	}

	t.Run("matching columns pass", func(t *testing.T) {
		m, err := mapping.NewAggregateMapper[User](strictPlan(t))
		require.NoError(t, err)

		users, err := m.MapMany([]mapping.Row{
			{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "order__id": int64(10), "order__total": 5.0},
		})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "Alice", users[0].Name)
	})

	t.Run("missing mapped column", func(t *testing.T) {
		m, err := mapping.NewAggregateMapper[User](strictPlan(t))
		require.NoError(t, err)

		_, err = m.MapMany([]mapping.Row{
			{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "order__id": int64(10)},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, mapping.ErrStrictMode)
		var me *mapping.MappingError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, "order__total", me.Column)
	})

	t.Run("unknown prefix group", func(t *testing.T) {
		m, err := mapping.NewAggregateMapper[User](strictPlan(t))
		require.NoError(t, err)

		_, err = m.MapMany([]mapping.Row{
			{
				"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com",
				"order__id": int64(10), "order__total": 5.0,
				"payment__id": int64(99),
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, mapping.ErrStrictMode)
		assert.Contains(t, err.Error(), "payment__id")
	})

	t.Run("lax plans ignore both", func(t *testing.T) {
		plan, err := mapping.Aggregate[User]("user__").
			Key("id").
			Fields("name", "email").
			Collection("Orders", mapping.Entity[Order]("order__").Key("id").Fields("total")).
			Build()
		require.NoError(t, err)
		m, err := mapping.NewAggregateMapper[User](plan)
		require.NoError(t, err)

		users, err := m.MapMany([]mapping.Row{
			{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "order__id": int64(10), "payment__id": int64(99)},
		})
		require.NoError(t, err)
		require.Len(t, users, 1)
		require.Len(t, users[0].Orders, 1)
		assert.Zero(t, users[0].Orders[0].Total)
	})
}

func TestMapMany_Empty(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	users, err := m.MapMany(nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMapMany_PointerRoots(t *testing.T) {
	m, err := mapping.NewAggregateMapper[*User](userPlan(t))
	require.NoError(t, err)

	users, err := m.MapMany([]mapping.Row{
		{"user__id": int64(1), "user__name": "Alice", "user__email": "a@ex.com", "order__id": nil, "order__total": nil},
	})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].Name)
}

func TestMapOne_Unsupported(t *testing.T) {
	m, err := mapping.NewAggregateMapper[User](userPlan(t))
	require.NoError(t, err)

	_, err = m.MapOne(mapping.Row{"user__id": int64(1)})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

// countingRoot counts constructor invocations so cost scaling is observable.
type countingRoot struct {
	ID   int64
	Kids []countingKid
}

type countingKid struct {
	ID int64
}

var rootConstructions, kidConstructions int

func (r *countingRoot) UnmarshalRow(fields mapping.Row) error {
	rootConstructions++
	r.ID = fields["id"].(int64)
	return nil
}

func (k *countingKid) UnmarshalRow(fields mapping.Row) error {
	kidConstructions++
	k.ID = fields["id"].(int64)
	return nil
}

func TestMapMany_ConstructionCountIsLinearInDistinctEntities(t *testing.T) {
	plan, err := mapping.Aggregate[countingRoot]("r__").
		Key("id").
		Collection("Kids", mapping.Entity[countingKid]("k__").Key("id")).
		Build()
	require.NoError(t, err)
	m, err := mapping.NewAggregateMapper[countingRoot](plan)
	require.NoError(t, err)

	const roots, kidsPerRoot, dup = 50, 20, 4
	var rows []mapping.Row
	for r := 0; r < roots; r++ {
		for k := 0; k < kidsPerRoot; k++ {
			for d := 0; d < dup; d++ {
				rows = append(rows, mapping.Row{
					"r__id": int64(r), "k__id": int64(r*1000 + k),
				})
			}
		}
	}

	rootConstructions, kidConstructions = 0, 0
	out, err := m.MapMany(rows)
	require.NoError(t, err)
	require.Len(t, out, roots)

	assert.Equal(t, roots, rootConstructions,
		"each root is constructed exactly once despite %d duplicate rows", dup)
	assert.Equal(t, roots*kidsPerRoot, kidConstructions,
		"each distinct child is constructed exactly once")
}

func BenchmarkMapMany(b *testing.B) {
	plan, err := mapping.Aggregate[User]("user__").
		Key("id").
		Collection("Orders", mapping.Entity[Order]("order__").Key("id")).
		Build()
	if err != nil {
		b.Fatal(err)
	}
	m, err := mapping.NewAggregateMapper[User](plan)
	if err != nil {
		b.Fatal(err)
	}

	rows := make([]mapping.Row, 0, 10000)
	for u := 0; u < 1000; u++ {
		for o := 0; o < 10; o++ {
			rows = append(rows, mapping.Row{
				"user__id": int64(u), "user__name": "n", "user__email": "e",
				"order__id": int64(u*100 + o), "order__total": 1.5,
			})
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.MapMany(rows); err != nil {
			b.Fatal(err)
		}
	}
}
