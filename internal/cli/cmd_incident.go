package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/verity/internal/engine"
	"github.com/randalmurphal/verity/internal/incident"
)

// newIncidentCmd creates the incident command
func newIncidentCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incident",
		Short: "Raise, escalate and resolve incidents",
	}
	cmd.AddCommand(newIncidentRaiseCmd(o))
	cmd.AddCommand(newIncidentContinueCmd(o))
	cmd.AddCommand(newIncidentResolveCmd(o))
	cmd.AddCommand(newIncidentShowCmd(o))
	return cmd
}

func printOutcome(w io.Writer, out *incident.Outcome) {
	if out.Resolved {
		fmt.Fprintf(w, "Incident #%d resolved; task #%d can resume\n", out.IncidentID, out.TaskID)
		return
	}
	fmt.Fprintf(w, "Incident #%d open, waiting on %s\n", out.IncidentID, out.PendingRole)
}

func newIncidentRaiseCmd(o *rootOptions) *cobra.Command {
	var f documentFlags
	var failureType, description string
	cmd := &cobra.Command{
		Use:   "raise <task-id>",
		Short: "Raise an incident against a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task-id", args[0])
			if err != nil {
				return err
			}
			content, err := readContent(cmd.InOrStdin(), f.content, f.file)
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				out, err := a.engine.RaiseOrContinueIncident(cmd.Context(), engine.IncidentRequest{
					TaskID:      id,
					UserID:      f.user,
					Content:     content,
					FailureType: failureType,
					Description: description,
				})
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), out, func(w io.Writer) { printOutcome(w, out) })
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&failureType, "failure-type", "", "failure type code")
	cmd.Flags().StringVar(&description, "description", "", "what went wrong")
	return cmd
}

func newIncidentContinueCmd(o *rootOptions) *cobra.Command {
	var f documentFlags
	cmd := &cobra.Command{
		Use:   "continue <incident-id>",
		Short: "Review an open incident with your active role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("incident-id", args[0])
			if err != nil {
				return err
			}
			content, err := readContent(cmd.InOrStdin(), f.content, f.file)
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				out, err := a.engine.RaiseOrContinueIncident(cmd.Context(), engine.IncidentRequest{
					IncidentID: id,
					UserID:     f.user,
					Content:    content,
				})
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), out, func(w io.Writer) { printOutcome(w, out) })
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newIncidentResolveCmd(o *rootOptions) *cobra.Command {
	var user, comment string
	cmd := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Resolve an open incident, skipping remaining reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("incident-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				out, err := a.engine.ResolveIncident(cmd.Context(), id, user, comment)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), out, func(w io.Writer) { printOutcome(w, out) })
			})
		},
	}
	cmd.Flags().StringVar(&user, "as", "", "acting user")
	cmd.Flags().StringVar(&comment, "comment", "", "resolution comment")
	return cmd
}

func newIncidentShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show an incident and its escalation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("incident-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				h, err := a.engine.IncidentHistory(cmd.Context(), id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), h, func(w io.Writer) {
					inc := h.Incident
					state := blockedStyle.Render("open")
					if inc.Resolved {
						state = doneStyle.Render("resolved")
					}
					fmt.Fprintf(w, "%s %s task #%d %s\n", titleStyle.Render(fmt.Sprintf("Incident #%d", inc.ID)),
						state, inc.TaskID, subtleStyle.Render(inc.FailureType))
					if inc.Description != "" {
						fmt.Fprintf(w, "  %s\n", inc.Description)
					}
					for _, s := range h.Steps {
						who := s.Transaction.UserID
						if who == "" {
							who = "-"
						}
						fmt.Fprintf(w, "  %-10s %-9s %s\n", s.Transaction.Role, s.Transaction.Status, who)
					}
				})
			})
		},
	}
}
