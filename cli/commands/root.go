// Package commands implements the rowquery CLI on cobra.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowquery/rowquery-go/adapters"
	"github.com/rowquery/rowquery-go/engine"
	"github.com/rowquery/rowquery-go/internal/cli/config"
	"github.com/rowquery/rowquery-go/internal/debug"
	"github.com/rowquery/rowquery-go/registry"
)

// app carries the loaded configuration and lazily-opened resources shared by
// every command.
type app struct {
	cfg *config.Config
	eng *engine.Engine
}

func (a *app) registry() (*registry.Registry, error) {
	return registry.LoadDir(a.cfg.SQLPath)
}

// engine opens the configured database on first use.
func (a *app) engine() (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}

	dialect, err := adapters.ForName(a.cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := a.cfg.DatabaseURL
	if dsn == "" {
		if dialect != adapters.SQLite {
			return nil, fmt.Errorf("database_url is required for driver %q", a.cfg.Driver)
		}
		dsn = adapters.SQLiteDSN("rowquery.db")
	}

	db, err := dialect.Open(dsn)
	if err != nil {
		return nil, err
	}
	reg, err := a.registry()
	if err != nil {
		db.Close()
		return nil, err
	}
	a.eng = engine.New(db, dialect, reg)
	return a.eng, nil
}

func (a *app) close() {
	if a.eng != nil {
		a.eng.Close()
	}
}

// NewRootCommand builds the rowquery root command.
func NewRootCommand() *cobra.Command {
	a := &app{}
	var debugFlag bool

	cmd := &cobra.Command{
		Use:   "rowquery",
		Short: "SQL-first data access with aggregate mapping",
		Long: `rowquery runs named SQL queries from a registry of .sql files and maps
flat join rows back into nested object graphs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a.cfg = cfg
			debug.Init(debugFlag || cfg.Debug)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	cmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	cmd.AddCommand(newQueriesCommand(a))
	cmd.AddCommand(newRunCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}
