package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// AggregateMapper reconstructs aggregates of type T from an ordered sequence
// of joined rows in one linear pass. T is the plan's root target type, or a
// pointer to it. The mapper holds no state of its own and is safe for
// concurrent use; every MapMany call allocates fresh identity caches.
type AggregateMapper[T any] struct {
	plan *AggregatePlan
}

// NewAggregateMapper binds a compiled plan to its root type.
func NewAggregateMapper[T any](plan *AggregatePlan) (*AggregateMapper[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	root := plan.root.target
	if t != root && !(t.Kind() == reflect.Pointer && t.Elem() == root) {
		return nil, buildErr(t.String(), ErrUnsupportedTargetType,
			"plan was built for root %s", root)
	}
	return &AggregateMapper[T]{plan: plan}, nil
}

// MapOne is unsupported for aggregates: reconstruction needs the whole row
// group, not a single row. Use MapMany.
func (m *AggregateMapper[T]) MapOne(Row) (T, error) {
	var zero T
	return zero, fmt.Errorf("aggregate mapping needs the whole row group, use MapMany: %w", errors.ErrUnsupported)
}

// MapMany consumes the rows in order and returns the materialized roots in
// first-occurrence order of each distinct root identity. Any mapping error
// aborts the call; no partial result is returned.
func (m *AggregateMapper[T]) MapMany(rows []Row) ([]T, error) {
	if m.plan.strict && len(rows) > 0 {
		if err := validateStrict(m.plan.root, rows[0]); err != nil {
			return nil, err
		}
	}

	st := &mapState{
		entities: make(map[string]*entityState),
		refCache: make(map[int]map[string]*entityState),
	}
	for _, row := range rows {
		if err := st.consume(m.plan.root, row); err != nil {
			return nil, err
		}
	}

	out := make([]T, 0, len(st.roots))
	wantPtr := reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Pointer
	for _, es := range st.roots {
		if err := st.finalize(es); err != nil {
			return nil, err
		}
		if wantPtr {
			out = append(out, es.inst.Interface().(T))
		} else {
			out = append(out, es.inst.Elem().Interface().(T))
		}
	}
	return out, nil
}

// mapState is the working state of exactly one MapMany call. It is dropped
// wholesale when the call returns, which bounds instance sharing to the call.
type mapState struct {
	roots    []*entityState                  // first-seen order
	entities map[string]*entityState         // ancestor-chain scope -> entity
	refCache map[int]map[string]*entityState // reference node id -> key -> shared child
}

// entityState tracks one constructed instance and the per-attribute
// bookkeeping its plan node needs on later rows of the same group.
type entityState struct {
	node  *EntityPlan
	inst  reflect.Value // pointer to the instance
	colls map[string]*collState
	refs  map[string]*entityState // assigned reference per attribute
	vos   map[string]*entityState
	done  bool
}

type collState struct {
	seen     map[string]struct{}
	children []*entityState // insertion order
}

func (st *mapState) consume(root *EntityPlan, row Row) error {
	key, null, err := extractKey(row, root)
	if err != nil {
		return err
	}
	if null {
		// No root on this row (outer-join padding); nothing to reconstruct.
		return nil
	}

	scope := "r\x1e" + key
	es := st.entities[scope]
	if es == nil {
		es, err = st.construct(root, row)
		if err != nil {
			return err
		}
		st.entities[scope] = es
		st.roots = append(st.roots, es)
	}
	return st.descend(es, scope, row)
}

// construct materializes one entity from the current row: instance, empty
// collection containers, and value objects (owned by the group, so decided
// here, on its first row).
func (st *mapState) construct(node *EntityPlan, row Row) (*entityState, error) {
	inst, err := node.cap.construct(extractFields(row, node))
	if err != nil {
		return nil, &MappingError{Target: node.target.String(), Err: ErrConstructor, Cause: err}
	}
	es := &entityState{node: node, inst: inst}

	for _, ch := range node.children {
		switch ch.kind {
		case kindCollection:
			if es.colls == nil {
				es.colls = make(map[string]*collState)
			}
			es.colls[ch.name] = &collState{seen: make(map[string]struct{})}
			if err := node.cap.initCollection(inst, ch.name); err != nil {
				return nil, constructFailure(node, err)
			}

		case kindReference:
			if es.refs == nil {
				es.refs = make(map[string]*entityState)
			}

		case kindValueObject:
			if allPrefixedNull(row, ch.entity) {
				continue // attribute stays nil
			}
			ves, err := st.construct(ch.entity, row)
			if err != nil {
				return nil, err
			}
			if err := node.cap.assignChild(inst, ch.name, ves.inst); err != nil {
				return nil, constructFailure(node, err)
			}
			if es.vos == nil {
				es.vos = make(map[string]*entityState)
			}
			es.vos[ch.name] = ves
		}
	}
	return es, nil
}

// descend applies the per-row rules of every child plan, depth first. scope is
// the identity chain from the root down to this entity; collection dedup is
// keyed by it so equal child keys under unrelated ancestors never collide.
func (st *mapState) descend(es *entityState, scope string, row Row) error {
	node := es.node
	for _, ch := range node.children {
		switch ch.kind {
		case kindCollection:
			key, null, err := extractKey(row, ch.entity)
			if err != nil {
				return err
			}
			if null {
				continue // no child on this row
			}
			cs := es.colls[ch.name]
			childScope := scope + "\x1e" + ch.name + "\x1f" + key
			ces := st.entities[childScope]
			if _, dup := cs.seen[key]; !dup {
				ces, err = st.construct(ch.entity, row)
				if err != nil {
					return err
				}
				st.entities[childScope] = ces
				cs.seen[key] = struct{}{}
				cs.children = append(cs.children, ces)
			}
			if ces != nil {
				if err := st.descend(ces, childScope, row); err != nil {
					return err
				}
			}

		case kindReference:
			key, null, err := extractKey(row, ch.entity)
			if err != nil {
				return err
			}
			if null {
				continue // attribute stays unset
			}
			cache := st.refCache[ch.entity.id]
			if cache == nil {
				cache = make(map[string]*entityState)
				st.refCache[ch.entity.id] = cache
			}
			res := cache[key]
			if res == nil {
				res, err = st.construct(ch.entity, row)
				if err != nil {
					return err
				}
				cache[key] = res
			}
			if _, assigned := es.refs[ch.name]; !assigned {
				if err := node.cap.assignChild(es.inst, ch.name, res.inst); err != nil {
					return constructFailure(node, err)
				}
				es.refs[ch.name] = res
			}
			// A shared reference has one scope of its own, not one per parent,
			// so its nested collections dedup against the shared instance.
			refScope := "q\x1e" + strconv.Itoa(ch.entity.id) + "\x1f" + key
			if err := st.descend(res, refScope, row); err != nil {
				return err
			}

		case kindValueObject:
			if ves := es.vos[ch.name]; ves != nil {
				if err := st.descend(ves, scope+"\x1e"+ch.name, row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// finalize flushes collections onto their parent attributes, depth first, so
// that value-typed slice elements are copied only after their own subtrees are
// complete. Shared references finalize once.
func (st *mapState) finalize(es *entityState) error {
	if es.done {
		return nil
	}
	es.done = true
	node := es.node

	for _, ch := range node.children {
		switch ch.kind {
		case kindCollection:
			cs := es.colls[ch.name]
			for _, ces := range cs.children {
				if err := st.finalize(ces); err != nil {
					return err
				}
			}
			if len(cs.children) == 0 {
				continue // stays the empty container set at construction
			}
			if node.cap.structBacked() {
				for _, ces := range cs.children {
					if err := node.cap.appendChild(es.inst, ch.name, ces.inst); err != nil {
						return constructFailure(node, err)
					}
				}
			} else {
				buf := make([]any, 0, len(cs.children))
				for _, ces := range cs.children {
					buf = append(buf, ces.inst.Interface())
				}
				if err := node.cap.setCollection(es.inst, ch.name, buf); err != nil {
					return constructFailure(node, err)
				}
			}

		case kindReference:
			if res := es.refs[ch.name]; res != nil {
				if err := st.finalize(res); err != nil {
					return err
				}
			}

		case kindValueObject:
			if ves := es.vos[ch.name]; ves != nil {
				if err := st.finalize(ves); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateStrict checks the plan tree against the first row's actual columns:
// every key and mapped column must be present, and every column carrying a
// "__" prefix must belong to a declared prefix group. Nodes without a field
// list take whatever prefixed columns the row has, so only their keys are
// checked.
func validateStrict(root *EntityPlan, row Row) error {
	known := make(map[string]bool)
	if err := checkNodeColumns(root, row, known); err != nil {
		return err
	}
	for col := range row {
		i := strings.Index(col, "__")
		if i < 0 {
			continue
		}
		if !known[col[:i+2]] {
			return &MappingError{Target: root.target.String(), Column: col, Err: ErrStrictMode}
		}
	}
	return nil
}

func checkNodeColumns(node *EntityPlan, row Row, known map[string]bool) error {
	known[node.prefix] = true
	cols := make([]string, 0, len(node.keyFields)+len(node.fields))
	cols = append(cols, node.keyFields...)
	cols = append(cols, node.fields...)
	for _, f := range cols {
		if _, ok := row[node.prefix+f]; !ok {
			return &MappingError{Target: node.target.String(), Column: node.prefix + f, Err: ErrStrictMode}
		}
	}
	for _, ch := range node.children {
		if err := checkNodeColumns(ch.entity, row, known); err != nil {
			return err
		}
	}
	return nil
}

// extractKey derives the node's identity tuple from the row. The second result
// is true when every key column is null (no node on this row). A partially
// null tuple is an error rather than a guess.
func extractKey(row Row, node *EntityPlan) (string, bool, error) {
	parts := make([]any, 0, len(node.keyFields))
	nulls := 0
	for _, kf := range node.keyFields {
		col := node.prefix + kf
		v, ok := row[col]
		if !ok {
			return "", false, &MappingError{Target: node.target.String(), Column: col, Err: ErrMissingColumn}
		}
		if v == nil {
			nulls++
		}
		parts = append(parts, v)
	}
	switch nulls {
	case 0:
		return encodeKey(parts), false, nil
	case len(parts):
		return "", true, nil
	default:
		return "", false, &MappingError{
			Target: node.target.String(),
			Column: node.prefix + strings.Join(node.keyFields, ","),
			Err:    ErrAmbiguousKey,
		}
	}
}

// extractFields collects the node's prefix-stripped fields from the row. An
// explicit (or struct-derived) field list reads exactly those columns; without
// one, every prefixed column not claimed by a child plan is taken.
func extractFields(row Row, node *EntityPlan) map[string]any {
	fields := make(map[string]any)
	if node.fields != nil {
		for _, f := range node.fields {
			fields[f] = row[node.prefix+f]
		}
		return fields
	}
outer:
	for col, v := range row {
		if !strings.HasPrefix(col, node.prefix) {
			continue
		}
		for _, ch := range node.children {
			if ch.entity.prefix != "" && strings.HasPrefix(col, ch.entity.prefix) {
				continue outer
			}
		}
		fields[col[len(node.prefix):]] = v
	}
	return fields
}

// allPrefixedNull reports whether every column belonging to the node is null
// on this row. Used for value objects, which have no key tuple.
func allPrefixedNull(row Row, node *EntityPlan) bool {
	if node.fields != nil {
		for _, f := range node.fields {
			if v, ok := row[node.prefix+f]; ok && v != nil {
				return false
			}
		}
		return true
	}
	for col, v := range row {
		if strings.HasPrefix(col, node.prefix) && v != nil {
			return false
		}
	}
	return true
}

func constructFailure(node *EntityPlan, err error) error {
	return &MappingError{Target: node.target.String(), Err: ErrConstructor, Cause: err}
}
