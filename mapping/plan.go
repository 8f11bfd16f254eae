package mapping

import "reflect"

// planKind is the closed set of child node kinds. The reconstruction engine
// switches over it exhaustively.
type planKind int

const (
	kindCollection planKind = iota // owned one-to-many
	kindReference                  // shared many-to-one
	kindValueObject                // identity-less embedded value
)

func (k planKind) String() string {
	switch k {
	case kindCollection:
		return "collection"
	case kindReference:
		return "reference"
	default:
		return "value-object"
	}
}

// EntityPlan describes how one node of the aggregate graph is constructed:
// which columns belong to it (prefix), how to build an instance (capability),
// which fields to extract, and which fields establish identity. Plans are
// frozen after Build and safe for concurrent reuse.
type EntityPlan struct {
	target    reflect.Type
	cap       *capability
	prefix    string
	fields    []string // prefix-stripped column names; nil means all remaining prefixed columns
	keyFields []string // ordered identity tuple; empty for roots of value-object nodes
	children  []childPlan
	id        int // position in preorder walk, used as cache key per node
}

// childPlan binds an EntityPlan to a named attribute on its parent.
type childPlan struct {
	kind   planKind
	name   string
	entity *EntityPlan
}

// Target returns the node's target type.
func (p *EntityPlan) Target() reflect.Type { return p.target }

// Prefix returns the node's column prefix.
func (p *EntityPlan) Prefix() string { return p.prefix }

// KeyFields returns the prefix-stripped key column names in declared order.
func (p *EntityPlan) KeyFields() []string {
	out := make([]string, len(p.keyFields))
	copy(out, p.keyFields)
	return out
}

// AggregatePlan is a compiled, validated plan tree. It is immutable and may be
// shared across concurrent MapMany calls indefinitely.
type AggregatePlan struct {
	root   *EntityPlan
	nodes  int
	strict bool
}

// Root returns the root entity plan.
func (p *AggregatePlan) Root() *EntityPlan { return p.root }

// Strict reports whether the plan validates itself against the first row.
func (p *AggregatePlan) Strict() bool { return p.strict }
