package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// EntityBuilder accumulates the declaration of one plan node. Builders are
// mutable and single-goroutine; the plans they produce are immutable.
type EntityBuilder struct {
	target    reflect.Type
	prefix    string
	keyFields []string
	fields    []string
	children  []childDecl
	strict    bool
}

type childDecl struct {
	kind  planKind
	name  string
	child *EntityBuilder
}

// Aggregate starts the declaration of an aggregate root of type T whose
// columns carry the given prefix. The prefix may be empty for the root.
func Aggregate[T any](prefix string) *EntityBuilder {
	return EntityOf(reflect.TypeOf((*T)(nil)).Elem(), prefix)
}

// Entity declares a child node of type T bound to a column prefix.
func Entity[T any](prefix string) *EntityBuilder {
	return EntityOf(reflect.TypeOf((*T)(nil)).Elem(), prefix)
}

// EntityOf is the non-generic variant of Entity.
func EntityOf(t reflect.Type, prefix string) *EntityBuilder {
	return &EntityBuilder{target: t, prefix: prefix}
}

// Key declares the ordered identity tuple of this node as prefix-stripped
// column names. Roots, collections and references require at least one key
// field; value objects must not declare any.
func (b *EntityBuilder) Key(fields ...string) *EntityBuilder {
	b.keyFields = append(b.keyFields, fields...)
	return b
}

// Fields declares an explicit list of prefix-stripped column names to extract.
// Without it, struct targets map all exported fields not claimed by a child
// plan, and other targets receive every remaining prefixed column of the row.
func (b *EntityBuilder) Fields(cols ...string) *EntityBuilder {
	b.fields = append(b.fields, cols...)
	return b
}

// Collection declares an owned one-to-many child bound to the named attribute.
func (b *EntityBuilder) Collection(name string, child *EntityBuilder) *EntityBuilder {
	b.children = append(b.children, childDecl{kind: kindCollection, name: name, child: child})
	return b
}

// Reference declares a shared many-to-one child bound to the named attribute.
func (b *EntityBuilder) Reference(name string, child *EntityBuilder) *EntityBuilder {
	b.children = append(b.children, childDecl{kind: kindReference, name: name, child: child})
	return b
}

// ValueObject declares an identity-less embedded child bound to the named
// attribute.
func (b *EntityBuilder) ValueObject(name string, child *EntityBuilder) *EntityBuilder {
	b.children = append(b.children, childDecl{kind: kindValueObject, name: name, child: child})
	return b
}

// Strict makes the compiled plan validate itself against the first mapped
// row: every mapped column must be present, and every "__"-prefixed column
// must belong to a declared prefix group. Only meaningful on the root.
func (b *EntityBuilder) Strict() *EntityBuilder {
	b.strict = true
	return b
}

// Build compiles and validates the declaration into an immutable
// AggregatePlan. It is all-or-nothing: on error no plan is returned. The root
// node must declare at least one key field.
func (b *EntityBuilder) Build() (*AggregatePlan, error) {
	if len(b.keyFields) == 0 {
		return nil, buildErr(b.target.String(), ErrMissingKeyField, "aggregate root declares no key fields")
	}
	c := &compiler{
		onPath:   make(map[*EntityBuilder]bool),
		prefixes: make(map[string]string),
	}
	root, err := c.compile(b)
	if err != nil {
		return nil, err
	}
	return &AggregatePlan{root: root, nodes: c.nextID, strict: b.strict}, nil
}

type compiler struct {
	onPath   map[*EntityBuilder]bool
	prefixes map[string]string // prefix -> target type that claimed it
	nextID   int
}

func (c *compiler) compile(b *EntityBuilder) (*EntityPlan, error) {
	tname := b.target.String()

	if c.onPath[b] {
		return nil, buildErr(tname, ErrCyclicPlan, "node with prefix %q is its own descendant", b.prefix)
	}
	c.onPath[b] = true
	defer delete(c.onPath, b)

	if prev, dup := c.prefixes[b.prefix]; dup {
		return nil, buildErr(tname, ErrDuplicatePrefix, "prefix %q already claimed by %s", b.prefix, prev)
	}
	c.prefixes[b.prefix] = tname

	cp, err := resolveCapability(b.target)
	if err != nil {
		return nil, err
	}

	// Sibling prefixes must not overlap: equal prefixes or one nesting inside
	// another would make column ownership ambiguous.
	for i := 0; i < len(b.children); i++ {
		for j := i + 1; j < len(b.children); j++ {
			a, z := b.children[i].child.prefix, b.children[j].child.prefix
			if strings.HasPrefix(a, z) || strings.HasPrefix(z, a) {
				return nil, buildErr(tname, ErrDuplicatePrefix,
					"sibling prefixes %q and %q overlap", a, z)
			}
		}
	}

	if len(b.children) > 0 && !cp.structBacked() && !cp.hasSetter {
		return nil, buildErr(tname, ErrUnsupportedTargetType,
			"%s cannot receive nested attributes", b.target)
	}

	node := &EntityPlan{
		target:    b.target,
		cap:       cp,
		prefix:    b.prefix,
		keyFields: append([]string(nil), b.keyFields...),
		id:        c.nextID,
	}
	c.nextID++

	childAttrs := make(map[int]bool) // struct field indexes claimed by children
	for _, decl := range b.children {
		switch decl.kind {
		case kindCollection, kindReference:
			if len(decl.child.keyFields) == 0 {
				return nil, buildErr(decl.child.target.String(), ErrMissingKeyField,
					"%s %q declares no key fields", decl.kind, decl.name)
			}
		case kindValueObject:
			if len(decl.child.keyFields) > 0 {
				return nil, buildErr(decl.child.target.String(), ErrValueObjectKey,
					"value object %q declares key fields %v", decl.name, decl.child.keyFields)
			}
		}

		if cp.structBacked() {
			idx, ok := cp.attrField(decl.name)
			if !ok {
				return nil, buildErr(tname, ErrUnsupportedTargetType,
					"%s has no attribute %q", b.target, decl.name)
			}
			if err := checkAttrType(cp.typ.Field(idx).Type, decl); err != nil {
				return nil, buildErr(tname, ErrUnsupportedTargetType, "attribute %q: %v", decl.name, err)
			}
			childAttrs[idx] = true
		}

		child, err := c.compile(decl.child)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, childPlan{kind: decl.kind, name: decl.name, entity: child})
	}

	node.fields = resolveFields(b, cp, childAttrs)
	return node, nil
}

// checkAttrType verifies that a parent struct field can hold what the engine
// will put in it: a slice for collections, a pointer (nil when absent, shared
// across parents for references) for references and value objects.
func checkAttrType(ft reflect.Type, decl childDecl) error {
	target := decl.child.target
	switch decl.kind {
	case kindCollection:
		if ft.Kind() != reflect.Slice {
			return errNotSlice(ft)
		}
		et := ft.Elem()
		if et != target && !(et.Kind() == reflect.Pointer && et.Elem() == target) {
			return errElemMismatch(ft, target)
		}
	case kindReference, kindValueObject:
		if ft.Kind() == reflect.Interface {
			return nil
		}
		if ft.Kind() != reflect.Pointer || ft.Elem() != target {
			return errNotPointer(ft, target)
		}
	}
	return nil
}

func resolveFields(b *EntityBuilder, cp *capability, childAttrs map[int]bool) []string {
	if len(b.fields) > 0 {
		return append([]string(nil), b.fields...)
	}
	if !cp.structBacked() {
		return nil // all remaining prefixed columns, resolved per row
	}
	fields := make([]string, 0, len(cp.colNames))
	for _, col := range cp.colNames {
		if childAttrs[cp.cols[col]] {
			continue
		}
		fields = append(fields, col)
	}
	return fields
}

func errNotSlice(ft reflect.Type) error {
	return fmt.Errorf("collections need a slice field, have %s", ft)
}

func errElemMismatch(ft, target reflect.Type) error {
	return fmt.Errorf("slice %s cannot hold %s elements", ft, target)
}

func errNotPointer(ft, target reflect.Type) error {
	return fmt.Errorf("need *%s (nil when absent), have %s", target, ft)
}
