package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// RowUnmarshaler is implemented by target types that construct themselves from
// a named-field mapping through a validating constructor. The fields passed to
// UnmarshalRow carry prefix-stripped column names. An error rejects the row.
type RowUnmarshaler interface {
	UnmarshalRow(fields Row) error
}

// FieldSetter is implemented by target types that are built by zero-value
// instantiation followed by per-field assignment.
type FieldSetter interface {
	SetField(name string, value any) error
}

type capKind int

const (
	capUnmarshalRow capKind = iota // validating constructor
	capSetField                    // zero value + per-field assignment
	capStructFields                // reflective struct construction
)

func (k capKind) String() string {
	switch k {
	case capUnmarshalRow:
		return "unmarshal-row"
	case capSetField:
		return "set-field"
	default:
		return "struct-fields"
	}
}

var (
	rowUnmarshalerType = reflect.TypeOf((*RowUnmarshaler)(nil)).Elem()
	fieldSetterType    = reflect.TypeOf((*FieldSetter)(nil)).Elem()
)

// capability is the resolved construction strategy for one target type.
// It is derived exactly once, at plan build time, and cached on the plan node.
type capability struct {
	kind      capKind
	typ       reflect.Type // underlying type, never a pointer
	hasSetter bool

	// struct-backed targets only
	cols     map[string]int // column name -> field index
	colNames []string       // mappable columns in field declaration order
	byAttr   map[string]int // lowercased field name -> field index
}

// resolveCapability classifies a target type into exactly one construction
// capability. Classification order: RowUnmarshaler, FieldSetter, plain struct.
func resolveCapability(t reflect.Type) (*capability, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pt := reflect.PointerTo(t)

	c := &capability{typ: t, hasSetter: pt.Implements(fieldSetterType)}
	switch {
	case pt.Implements(rowUnmarshalerType):
		c.kind = capUnmarshalRow
	case c.hasSetter:
		c.kind = capSetField
	case t.Kind() == reflect.Struct:
		c.kind = capStructFields
	default:
		return nil, buildErr(t.String(), ErrUnsupportedTargetType,
			"%s is not a struct and implements neither RowUnmarshaler nor FieldSetter", t)
	}

	if t.Kind() == reflect.Struct {
		c.cols = make(map[string]int)
		c.byAttr = make(map[string]int)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			col := f.Tag.Get("db")
			if col == "-" {
				continue
			}
			if col == "" {
				col = toSnakeCase(f.Name)
			}
			c.cols[col] = i
			c.colNames = append(c.colNames, col)
			c.byAttr[strings.ToLower(f.Name)] = i
		}
		if c.kind == capStructFields && len(c.cols) == 0 {
			return nil, buildErr(t.String(), ErrUnsupportedTargetType,
				"struct %s has no mappable exported fields", t)
		}
	}
	return c, nil
}

// structBacked reports whether nested attributes are assigned through struct
// fields. SetField targets always take attributes through SetField, matching
// their construction path.
func (c *capability) structBacked() bool {
	return c.kind != capSetField && len(c.byAttr) > 0
}

// construct builds one instance from prefix-stripped fields and returns a
// pointer value to it.
func (c *capability) construct(fields map[string]any) (reflect.Value, error) {
	pv := reflect.New(c.typ)

	switch c.kind {
	case capUnmarshalRow:
		if err := pv.Interface().(RowUnmarshaler).UnmarshalRow(Row(fields)); err != nil {
			return reflect.Value{}, err
		}

	case capSetField:
		fs := pv.Interface().(FieldSetter)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := fs.SetField(name, fields[name]); err != nil {
				return reflect.Value{}, err
			}
		}

	case capStructFields:
		elem := pv.Elem()
		for col, val := range fields {
			idx, ok := c.cols[col]
			if !ok {
				continue
			}
			fv := elem.Field(idx)
			if val == nil {
				if fv.Kind() == reflect.Pointer {
					fv.Set(reflect.Zero(fv.Type()))
				}
				continue
			}
			if err := setFieldValue(fv, val); err != nil {
				return reflect.Value{}, fmt.Errorf("field %q: %w", col, err)
			}
		}
	}
	return pv, nil
}

// attrField resolves an attribute name to a struct field index.
func (c *capability) attrField(name string) (int, bool) {
	if c.byAttr == nil {
		return 0, false
	}
	idx, ok := c.byAttr[strings.ToLower(name)]
	return idx, ok
}

// assignChild sets a reference or value-object attribute to a child instance
// (a pointer value).
func (c *capability) assignChild(parent reflect.Value, name string, child reflect.Value) error {
	if c.structBacked() {
		idx, ok := c.attrField(name)
		if !ok {
			return fmt.Errorf("%s has no attribute %q", c.typ, name)
		}
		fv := parent.Elem().Field(idx)
		if child.Type().AssignableTo(fv.Type()) {
			fv.Set(child)
			return nil
		}
		return fmt.Errorf("cannot assign %s to attribute %q of %s", child.Type(), name, c.typ)
	}
	return parent.Interface().(FieldSetter).SetField(name, child.Interface())
}

// initCollection sets a collection attribute to an empty, non-nil container.
func (c *capability) initCollection(parent reflect.Value, name string) error {
	if c.structBacked() {
		idx, ok := c.attrField(name)
		if !ok {
			return fmt.Errorf("%s has no attribute %q", c.typ, name)
		}
		fv := parent.Elem().Field(idx)
		fv.Set(reflect.MakeSlice(fv.Type(), 0, 0))
		return nil
	}
	return parent.Interface().(FieldSetter).SetField(name, []any{})
}

// appendChild appends a child instance to a collection attribute, preserving
// insertion order.
func (c *capability) appendChild(parent reflect.Value, name string, child reflect.Value) error {
	if c.structBacked() {
		idx, _ := c.attrField(name)
		fv := parent.Elem().Field(idx)
		if fv.Type().Elem().Kind() == reflect.Pointer {
			fv.Set(reflect.Append(fv, child))
		} else {
			fv.Set(reflect.Append(fv, child.Elem()))
		}
		return nil
	}
	return fmt.Errorf("%s does not support collection append", c.typ)
}

// setCollection replaces a collection attribute wholesale. Used for parents
// that assign attributes through SetField.
func (c *capability) setCollection(parent reflect.Value, name string, children []any) error {
	return parent.Interface().(FieldSetter).SetField(name, children)
}

// setFieldValue assigns a driver scalar to a struct field, converting across
// the numeric widths drivers collapse to (int64, float64) and unwrapping
// pointer fields for nullable columns.
func setFieldValue(fv reflect.Value, value any) error {
	ft := fv.Type()

	if ft.Kind() == reflect.Pointer {
		if value == nil {
			fv.Set(reflect.Zero(ft))
			return nil
		}
		ev := reflect.New(ft.Elem()).Elem()
		if err := setFieldValue(ev, value); err != nil {
			return err
		}
		fv.Set(ev.Addr())
		return nil
	}

	vv := reflect.ValueOf(value)
	if !vv.IsValid() {
		return nil
	}
	vt := vv.Type()

	if vt.AssignableTo(ft) {
		fv.Set(vv)
		return nil
	}
	if bs, ok := value.([]byte); ok && ft.Kind() == reflect.String {
		fv.SetString(string(bs))
		return nil
	}
	if vt.ConvertibleTo(ft) && ft.Kind() != reflect.String {
		fv.Set(vv.Convert(ft))
		return nil
	}
	return fmt.Errorf("cannot convert %s to %s", vt, ft)
}

// toSnakeCase converts PascalCase to snake_case. Acronym runs stay as one
// word: ID -> id, UserID -> user_id, HTTPCode -> http_code.
func toSnakeCase(s string) string {
	var result strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		if i > 0 && isUpper(r) {
			nextLower := i+1 < len(rs) && rs[i+1] >= 'a' && rs[i+1] <= 'z'
			if !isUpper(rs[i-1]) || nextLower {
				result.WriteRune('_')
			}
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
