package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the migrate command
func newMigrateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Database ready (%s %s)\n", a.db.Dialect(), a.db.Path())
				return nil
			})
		},
	}
}
