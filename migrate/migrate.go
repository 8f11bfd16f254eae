// Package migrate runs forward-only SQL schema migrations. Migration files
// live in one directory, named NNN_description.sql, and applied versions are
// tracked in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/rowquery/rowquery-go/adapters"
	"github.com/rowquery/rowquery-go/internal/debug"
)

// ErrMigrationFile is returned for a .sql file in the migration directory
// whose name does not match NNN_description.sql.
var ErrMigrationFile = errors.New("invalid migration file name")

// MigrationError reports a migration that failed to apply. Migrations before
// it are committed; it and everything after it are not.
type MigrationError struct {
	Version string
	Err     error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Version, e.Err)
}

// Unwrap returns the underlying failure.
func (e *MigrationError) Unwrap() error { return e.Err }

// Migration is one discovered migration file.
type Migration struct {
	Version     string
	Description string
	Path        string
	Applied     bool
}

var fileNamePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  TEXT NOT NULL
)`

// Runner discovers and applies migrations. It is not safe for concurrent
// use; run migrations from one goroutine at startup.
type Runner struct {
	fsys    afero.Fs
	dir     string
	db      *sql.DB
	dialect adapters.Dialect
}

// NewRunner builds a Runner over a migration directory and an open database
// handle, creating the tracking table if needed.
func NewRunner(ctx context.Context, fsys afero.Fs, dir string, db *sql.DB, dialect adapters.Dialect) (*Runner, error) {
	if _, err := db.ExecContext(ctx, createTrackingTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}
	return &Runner{fsys: fsys, dir: dir, db: db, dialect: dialect}, nil
}

// Discover lists every migration file with its applied status, ordered by
// version.
func (r *Runner) Discover(ctx context.Context) ([]Migration, error) {
	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	err = afero.Walk(r.fsys, r.dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if filepath.Clean(path) != filepath.Clean(r.dir) {
				return filepath.SkipDir // flat directory only
			}
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".sql") {
			return nil
		}
		m := fileNamePattern.FindStringSubmatch(info.Name())
		if m == nil {
			return fmt.Errorf("%w: %q must match NNN_description.sql", ErrMigrationFile, info.Name())
		}
		migrations = append(migrations, Migration{
			Version:     m[1],
			Description: m[2],
			Path:        path,
			Applied:     applied[m[1]],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := sortByVersion(migrations); err != nil {
		return nil, err
	}
	return migrations, nil
}

// sortByVersion orders migrations numerically, so 2 sorts before 10
// regardless of zero padding.
func sortByVersion(migrations []Migration) error {
	parsed := make(map[string]*goversion.Version, len(migrations))
	for _, m := range migrations {
		v, err := goversion.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("%w: version %q: %v", ErrMigrationFile, m.Version, err)
		}
		parsed[m.Version] = v
	}
	sort.SliceStable(migrations, func(i, j int) bool {
		return parsed[migrations[i].Version].LessThan(parsed[migrations[j].Version])
	})
	return nil
}

// Pending lists unapplied migrations in apply order.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	all, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range all {
		if !m.Applied {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Applied lists already-applied migrations in version order.
func (r *Runner) Applied(ctx context.Context) ([]Migration, error) {
	all, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var applied []Migration
	for _, m := range all {
		if m.Applied {
			applied = append(applied, m)
		}
	}
	return applied, nil
}

// Apply runs every pending migration in order, each in its own transaction,
// and stops at the first failure. It returns the migrations that were
// applied, alongside any *MigrationError.
func (r *Runner) Apply(ctx context.Context) ([]Migration, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range pending {
		if err := r.applyOne(ctx, m); err != nil {
			return applied, &MigrationError{Version: m.Version, Err: err}
		}
		m.Applied = true
		applied = append(applied, m)
		debug.Info("migration applied", "version", m.Version, "description", m.Description)
	}
	return applied, nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	text, err := afero.ReadFile(r.fsys, m.Path)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(text)); err != nil {
		tx.Rollback()
		return err
	}
	insert := "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"
	if r.dialect.Placeholder == adapters.Dollar {
		insert = "INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)"
	}
	_, err = tx.ExecContext(ctx, insert,
		m.Version, m.Description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CurrentVersion returns the highest applied version, or "" when no
// migration has been applied.
func (r *Runner) CurrentVersion(ctx context.Context) (string, error) {
	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return "", err
	}

	var (
		best    *goversion.Version
		bestRaw string
	)
	for raw := range applied {
		v, err := goversion.NewVersion(raw)
		if err != nil {
			return "", fmt.Errorf("%w: version %q: %v", ErrMigrationFile, raw, err)
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	return bestRaw, nil
}

func (r *Runner) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
