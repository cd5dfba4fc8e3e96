package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSettingsCmd creates the settings command
func newSettingsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change application settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.Setting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return cmd
}

// newRoleCmd creates the role command
func newRoleCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage users' active roles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <user-id>",
		Short: "Show a user's active role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				role, err := a.engine.ActiveRole(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if role == "" {
					role = subtleStyle.Render("(none)")
				}
				fmt.Fprintln(cmd.OutOrStdout(), role)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <user-id> <role>",
		Short: "Make role the user's only active role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.SetActiveRole(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], args[1])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <user-id>",
		Short: "Remove the user's active role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.ClearActiveRole(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no active role\n", args[0])
				return nil
			})
		},
	})
	return cmd
}
