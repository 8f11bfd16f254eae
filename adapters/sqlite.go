package adapters

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the SQLite dialect on mattn/go-sqlite3.
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite3",
	Placeholder: Question,
}

// SQLiteDSN builds a file DSN with WAL journaling and foreign keys on.
// Use ":memory:" (or SQLiteMemoryDSN) for an in-memory database.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
}

// SQLiteMemoryDSN is a shared in-memory database DSN, stable across the
// connections of one pool.
const SQLiteMemoryDSN = "file::memory:?cache=shared"
