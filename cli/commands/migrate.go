package commands

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rowquery/rowquery-go/internal/cli/ui"
	"github.com/rowquery/rowquery-go/migrate"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage schema migrations",
		Long:  "Discover and apply forward-only SQL migrations from the migrations directory.",
	}
	cmd.AddCommand(newMigrateStatusCommand(a))
	cmd.AddCommand(newMigrateUpCommand(a))
	return cmd
}

func (a *app) migrationRunner(cmd *cobra.Command) (*migrate.Runner, error) {
	e, err := a.engine()
	if err != nil {
		return nil, err
	}
	return migrate.NewRunner(cmd.Context(), afero.NewOsFs(), a.cfg.MigrationsPath, e.DB(), e.Dialect())
}

func newMigrateStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.migrationRunner(cmd)
			if err != nil {
				return err
			}
			all, err := r.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				ui.PrintWarning("no migrations found under %s", a.cfg.MigrationsPath)
				return nil
			}

			rows := make([][]string, 0, len(all))
			for _, m := range all {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				rows = append(rows, []string{m.Version, m.Description, state})
			}
			ui.PrintTable([]string{"VERSION", "DESCRIPTION", "STATE"}, rows)

			current, err := r.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			if current == "" {
				ui.PrintInfo("database is at no version")
			} else {
				ui.PrintInfo("database is at version %s", current)
			}
			return nil
		},
	}
}

func newMigrateUpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.migrationRunner(cmd)
			if err != nil {
				return err
			}
			applied, err := r.Apply(cmd.Context())
			for _, m := range applied {
				ui.PrintSuccess("applied %s_%s", m.Version, m.Description)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				ui.PrintInfo("nothing to apply")
			}
			return nil
		},
	}
}
