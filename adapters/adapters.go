// Package adapters describes the SQL dialects the engine can speak: the
// registered database/sql driver, the placeholder style parameters are
// rendered to, and DSN construction. Driver registration (blank imports)
// lives in this package only.
package adapters

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rowquery/rowquery-go/internal/debug"
)

// ErrUnknownDialect is returned by ForName for an unrecognized dialect name.
var ErrUnknownDialect = errors.New("unknown dialect")

// PlaceholderStyle is how a dialect's driver expects bind parameters.
type PlaceholderStyle int

const (
	// Question renders every parameter as "?" in occurrence order.
	Question PlaceholderStyle = iota
	// Dollar renders parameters as "$1".."$n", reusing the same ordinal for
	// repeated names.
	Dollar
)

// Dialect binds a dialect name to its database/sql driver and placeholder
// style.
type Dialect struct {
	Name        string
	Driver      string
	Placeholder PlaceholderStyle
}

// Open opens a database handle for this dialect and verifies the connection.
func (d Dialect) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.Name, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", d.Name, err)
	}
	debug.Debug("database opened", "dialect", d.Name, "driver", d.Driver)
	return db, nil
}

// ForName resolves a dialect by its configuration name.
func ForName(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// Names returns the recognized dialect configuration names.
func Names() []string {
	return []string{"sqlite", "postgres", "mysql"}
}
