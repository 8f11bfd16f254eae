package commands

import (
	"github.com/spf13/cobra"

	"github.com/rowquery/rowquery-go/internal/cli/ui"
)

func newQueriesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queries",
		Short: "List registered SQL queries",
		Long:  "List every query in the SQL registry with the file it was loaded from.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if reg.Len() == 0 {
				ui.PrintWarning("no queries found under %s", a.cfg.SQLPath)
				return nil
			}

			rows := make([][]string, 0, reg.Len())
			for _, name := range reg.Names() {
				path, _ := reg.Path(name)
				rows = append(rows, []string{name, path})
			}
			ui.PrintTable([]string{"QUERY", "FILE"}, rows)
			return nil
		},
	}
}
