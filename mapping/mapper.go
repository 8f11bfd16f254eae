package mapping

import (
	"reflect"
)

// Mapper turns result rows into values of type T. AggregateMapper and
// ModelMapper both implement it; the engine applies MapOne to single-row
// fetches and MapMany to multi-row fetches.
type Mapper[T any] interface {
	MapOne(row Row) (T, error)
	MapMany(rows []Row) ([]T, error)
}

// ModelMapper maps flat rows to values of type T, one row per value, using
// the same construction capabilities as the aggregate engine. Column aliases
// rename row columns before construction.
type ModelMapper[T any] struct {
	cap     *capability
	aliases map[string]string // column name -> field name
}

// NewModelMapper resolves the construction capability of T once.
func NewModelMapper[T any](aliases map[string]string) (*ModelMapper[T], error) {
	c, err := resolveCapability(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return &ModelMapper[T]{cap: c, aliases: aliases}, nil
}

// MapOne maps a single row.
func (m *ModelMapper[T]) MapOne(row Row) (T, error) {
	var zero T
	fields := make(map[string]any, len(row))
	for col, v := range row {
		if mapped, ok := m.aliases[col]; ok {
			col = mapped
		}
		fields[col] = v
	}
	inst, err := m.cap.construct(fields)
	if err != nil {
		return zero, &MappingError{Target: m.cap.typ.String(), Err: ErrConstructor, Cause: err}
	}
	if reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Pointer {
		return inst.Interface().(T), nil
	}
	return inst.Elem().Interface().(T), nil
}

// MapMany maps every row through MapOne.
func (m *ModelMapper[T]) MapMany(rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := m.MapOne(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
