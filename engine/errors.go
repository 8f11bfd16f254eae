package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMultipleRows is returned by FetchOne when more than one row matches.
	ErrMultipleRows = errors.New("query returned multiple rows")

	// ErrParamBinding is returned when a named parameter in the SQL has no
	// value in the supplied parameter map.
	ErrParamBinding = errors.New("parameter binding failed")

	// ErrSanitize is returned when inline SQL fails a sanitization check.
	ErrSanitize = errors.New("sql sanitization failed")

	// ErrTxState is returned on an invalid transaction state transition.
	ErrTxState = errors.New("invalid transaction state")
)

// TxStateError reports an operation attempted in a transaction state that
// does not permit it.
type TxStateError struct {
	State  string
	Action string
}

// Error implements the error interface.
func (e *TxStateError) Error() string {
	return fmt.Sprintf("cannot %s transaction in state %q", e.Action, e.State)
}

// Unwrap returns ErrTxState.
func (e *TxStateError) Unwrap() error { return ErrTxState }
