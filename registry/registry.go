// Package registry loads SQL files from a directory tree into an immutable,
// namespace-keyed catalog. Load once at startup; reads are lock-free for the
// lifetime of the process.
//
// Namespace convention:
//
//	sql/user/get_by_id.sql       -> "user.get_by_id"
//	sql/billing/invoice/list.sql -> "billing.invoice.list"
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/rowquery/rowquery-go/internal/debug"
)

var (
	// ErrQueryNotFound is returned when no query matches a requested name.
	ErrQueryNotFound = errors.New("query not found")

	// ErrDuplicateQuery is returned when two SQL files resolve to the same
	// namespace key.
	ErrDuplicateQuery = errors.New("duplicate query name")
)

// Registry is an immutable name->SQL catalog.
type Registry struct {
	root    string
	queries map[string]string
	paths   map[string]string
	names   []string // sorted
}

// Load reads every *.sql file under root on the given filesystem. A missing
// root yields an empty registry. Queries loaded here are trusted: the engine
// never sanitizes them.
func Load(fsys afero.Fs, root string) (*Registry, error) {
	r := &Registry{
		root:    root,
		queries: make(map[string]string),
		paths:   make(map[string]string),
	}

	exists, err := afero.DirExists(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("stat sql root %q: %w", root, err)
	}
	if !exists {
		debug.Debug("sql root missing, registry empty", "root", root)
		return r, nil
	}

	err = afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".sql") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := queryName(rel)

		if prev, dup := r.paths[name]; dup {
			return fmt.Errorf("%w: %q resolves from both %s and %s",
				ErrDuplicateQuery, name, prev, path)
		}

		text, err := afero.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		r.queries[name] = strings.TrimSpace(string(text))
		r.paths[name] = path
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.names = make([]string, 0, len(r.queries))
	for name := range r.queries {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	debug.Debug("sql registry loaded", "root", root, "queries", len(r.names))
	return r, nil
}

// LoadDir loads from the OS filesystem.
func LoadDir(root string) (*Registry, error) {
	return Load(afero.NewOsFs(), root)
}

// queryName converts a relative file path into a dot-separated query name.
func queryName(rel string) string {
	rel = strings.TrimSuffix(rel, ".sql")
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// Get returns the SQL text registered under a dot-separated name.
func (r *Registry) Get(name string) (string, error) {
	sql, ok := r.queries[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrQueryNotFound, name)
	}
	return sql, nil
}

// Has reports whether a query name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.queries[name]
	return ok
}

// Path returns the file a query was loaded from.
func (r *Registry) Path(name string) (string, bool) {
	p, ok := r.paths[name]
	return p, ok
}

// Names returns all registered query names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered queries.
func (r *Registry) Len() int { return len(r.queries) }

// Root returns the directory the registry was loaded from.
func (r *Registry) Root() string { return r.root }
