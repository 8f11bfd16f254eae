// Package mapping reconstructs aggregate object graphs from flat, joined SQL
// result rows in a single pass. A mapping plan is built once with the fluent
// builder, frozen, and then shared across any number of concurrent MapMany
// calls; all per-call state lives inside the call.
package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one result row: column name to scalar value. Values are the scalars
// produced by database/sql drivers (nil, bool, int64, float64, string, []byte,
// time.Time). Rows are never mutated by the mapper.
type Row map[string]any

// Value returns the value of a column and whether the column is present.
// An absent column is distinct from a present null.
func (r Row) Value(column string) (any, bool) {
	v, ok := r[column]
	return v, ok
}

// Columns returns the column names of the row in unspecified order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	return cols
}

// encodeKey renders a key tuple as a string usable as an identity-map key.
// Values of different scalar types never collide because each part carries a
// type tag.
func encodeKey(parts []any) string {
	var sb strings.Builder
	for i, v := range parts {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		encodeKeyPart(&sb, v)
	}
	return sb.String()
}

func encodeKeyPart(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case string:
		sb.WriteByte('s')
		sb.WriteString(x)
	case int64:
		sb.WriteByte('i')
		sb.WriteString(strconv.FormatInt(x, 10))
	case int:
		sb.WriteByte('i')
		sb.WriteString(strconv.Itoa(x))
	case float64:
		sb.WriteByte('f')
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case bool:
		sb.WriteByte('b')
		if x {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	case []byte:
		sb.WriteByte('y')
		sb.Write(x)
	case time.Time:
		sb.WriteByte('t')
		sb.WriteString(x.UTC().Format(time.RFC3339Nano))
	default:
		sb.WriteByte('v')
		fmt.Fprintf(sb, "%v", x)
	}
}
