package mapping

import (
	"errors"
	"fmt"
)

// Plan build errors. All are detected by Build before any row is processed;
// a failed Build never returns a usable plan.
var (
	// ErrDuplicatePrefix is returned when two sibling nodes claim overlapping
	// column prefixes, or the same prefix appears twice anywhere in the tree.
	ErrDuplicatePrefix = errors.New("duplicate column prefix")

	// ErrMissingKeyField is returned when a collection or reference node has
	// no key fields declared.
	ErrMissingKeyField = errors.New("missing key field")

	// ErrValueObjectKey is returned when a value-object node declares key
	// fields. Value objects have no identity.
	ErrValueObjectKey = errors.New("value object must not declare key fields")

	// ErrCyclicPlan is returned when a plan node appears as its own descendant.
	ErrCyclicPlan = errors.New("cyclic mapping plan")

	// ErrUnsupportedTargetType is returned when a target type supports none of
	// the construction capabilities.
	ErrUnsupportedTargetType = errors.New("unsupported target type")
)

// Row mapping errors. Any of these aborts the whole MapMany call; no partial
// result is ever returned.
var (
	// ErrMissingColumn is returned when a declared key column is absent from a row.
	ErrMissingColumn = errors.New("missing column")

	// ErrAmbiguousKey is returned when some but not all columns of a key tuple
	// are null on a row.
	ErrAmbiguousKey = errors.New("ambiguous key tuple")

	// ErrConstructor is returned when the target's construction capability
	// rejects the supplied fields.
	ErrConstructor = errors.New("constructor rejected fields")

	// ErrStrictMode is returned by strict plans when the first row is missing
	// a mapped column or carries an undeclared prefix group.
	ErrStrictMode = errors.New("strict mode violation")
)

// BuildError reports a plan validation failure.
type BuildError struct {
	Target string // target type of the offending node
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("build plan for %s: %v: %s", e.Target, e.Err, e.Detail)
	}
	return fmt.Sprintf("build plan for %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *BuildError) Unwrap() error { return e.Err }

func buildErr(target string, err error, format string, args ...any) *BuildError {
	return &BuildError{Target: target, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// MappingError reports a row reconstruction failure.
type MappingError struct {
	Target string // target type of the node being mapped
	Column string // offending column, when known
	Err    error  // ErrMissingColumn, ErrAmbiguousKey, ErrConstructor or ErrStrictMode
	Cause  error  // underlying rejection, set for ErrConstructor
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("map %s: %v: %v", e.Target, e.Err, e.Cause)
	case e.Column != "":
		return fmt.Sprintf("map %s: %v: %q", e.Target, e.Err, e.Column)
	default:
		return fmt.Sprintf("map %s: %v", e.Target, e.Err)
	}
}

// Unwrap returns the underlying cause when present, else the sentinel.
func (e *MappingError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Err
}

// Is matches against both the sentinel and the cause.
func (e *MappingError) Is(target error) bool {
	return errors.Is(e.Err, target) || (e.Cause != nil && errors.Is(e.Cause, target))
}
