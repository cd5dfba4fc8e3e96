package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/verity/internal/engine"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

// newProjectCmd creates the project command
func newProjectCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Create and inspect projects",
	}
	cmd.AddCommand(newProjectCreateCmd(o))
	cmd.AddCommand(newProjectTreeCmd(o))
	return cmd
}

func newProjectCreateCmd(o *rootOptions) *cobra.Command {
	var name, equipment, phases, by string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Materialize a project from phase templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				tree, err := a.engine.CreateProject(cmd.Context(), engine.ProjectRequest{
					Name:          name,
					EquipmentCode: equipment,
					PhaseCodes:    splitList(phases),
					CreatedBy:     by,
				})
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), tree, func(w io.Writer) {
					fmt.Fprint(w, renderTree(tree))
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&equipment, "equipment", "", "equipment code")
	cmd.Flags().StringVar(&phases, "phases", "", "comma-separated phase template codes")
	cmd.Flags().StringVar(&by, "as", "", "creating user")
	return cmd
}

func newProjectTreeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <project-id>",
		Short: "Show a project's phases and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("project-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				tree, err := a.engine.ProjectTree(cmd.Context(), id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), tree, func(w io.Writer) {
					fmt.Fprint(w, renderTree(tree))
				})
			})
		},
	}
}

// newTaskCmd creates the task command
func newTaskCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage task reviewers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "assign <task-id> <user-id>",
		Short: "Add a reviewer who must submit the task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.AssignReviewer(cmd.Context(), id, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to task #%d\n", args[1], id)
				return nil
			})
		},
	})
	return cmd
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, verrors.ErrValidation(name, "must be a positive integer")
	}
	return id, nil
}
