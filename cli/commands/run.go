package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/rowquery/rowquery-go/internal/cli/ui"
	"github.com/rowquery/rowquery-go/internal/cli/watch"
	"github.com/rowquery/rowquery-go/mapping"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		paramFlags []string
		watchFlag  bool
		dumpFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Execute a registered query",
		Long: `Execute a query by its registry name and render the result as a table.

Parameters are passed with repeated --param flags:

    rowquery run user.get_by_id --param id=42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}

			runOnce := func() error {
				return runQuery(cmd.Context(), a, name, params, dumpFlag)
			}

			if !watchFlag {
				return runOnce()
			}

			w, err := watch.NewWatcher(a.cfg.SQLPath, func() error {
				// Reload the registry so edited SQL takes effect.
				a.close()
				a.eng = nil
				return runQuery(context.Background(), a, name, params, dumpFlag)
			})
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			ui.PrintInfo("watching %s for changes, Ctrl-C to stop", a.cfg.SQLPath)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt)
			<-stop
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "query parameter as name=value (repeatable)")
	cmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "re-run when SQL files change")
	cmd.Flags().BoolVar(&dumpFlag, "dump", false, "dump the first row instead of rendering a table")

	return cmd
}

func runQuery(ctx context.Context, a *app, name string, params map[string]any, dump bool) error {
	e, err := a.engine()
	if err != nil {
		return err
	}
	rows, err := e.FetchAll(ctx, name, params)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		ui.PrintInfo("no rows")
		return nil
	}
	if dump {
		spew.Dump(rows[0])
		return nil
	}
	renderRows(rows)
	ui.PrintSuccess("%d row(s)", len(rows))
	return nil
}

// renderRows prints the result set with columns in sorted order, which is
// stable across runs.
func renderRows(rows []mapping.Row) {
	cols := rows[0].Columns()
	sort.Strings(cols)

	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			v, ok := row.Value(col)
			switch {
			case !ok || v == nil:
				cells[i] = "NULL"
			case isBytes(v):
				cells[i] = string(v.([]byte))
			default:
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		table = append(table, cells)
	}

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = strings.ToUpper(c)
	}
	ui.PrintTable(headers, table)
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}

// parseParams converts name=value flags into a parameter map, guessing the
// scalar type: int, float and bool literals are converted, everything else
// stays a string.
func parseParams(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q, want name=value", f)
		}
		params[name] = guessScalar(raw)
	}
	return params, nil
}

func guessScalar(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
