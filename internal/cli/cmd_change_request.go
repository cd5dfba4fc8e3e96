package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/verity/internal/changerequest"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

// newChangeRequestCmd creates the change-request command
func newChangeRequestCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "change-request",
		Aliases: []string{"cr"},
		Short:   "Manage change requests and their approvers",
	}
	cmd.AddCommand(newCRCreateCmd(o))
	cmd.AddCommand(newCRShowCmd(o))
	cmd.AddCommand(newCRApproversCmd(o))
	cmd.AddCommand(newCRDecideCmd(o))
	cmd.AddCommand(newCRReviseCmd(o))
	cmd.AddCommand(newCRVerifyCmd(o))
	return cmd
}

func (o *rootOptions) printChangeRequest(w io.Writer, v *changerequest.View) error {
	return o.output(w, v, func(w io.Writer) {
		state := subtleStyle.Render("undecided")
		switch {
		case v.Rejected():
			state = blockedStyle.Render("rejected")
		case v.Verified != nil:
			state = doneStyle.Render("verified")
		}
		fmt.Fprintf(w, "%s rev %d %s  %s\n", titleStyle.Render(fmt.Sprintf("CR #%d", v.ID)), v.Revision, state, v.Title)
		for _, ap := range v.Approvers {
			decision := "pending"
			if ap.Verified != nil {
				decision = "verified"
				if !*ap.Verified {
					decision = "rejected: " + ap.Reason
				}
			}
			fmt.Fprintf(w, "  %-12s %s\n", ap.UserID, decision)
		}
		if p := v.Pending(); len(p) > 0 {
			fmt.Fprintln(w, subtleStyle.Render("  waiting on "+strings.Join(p, ", ")))
		}
	})
}

func newCRCreateCmd(o *rootOptions) *cobra.Command {
	var projectID int64
	var title, user string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a change request on a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.CreateChangeRequest(cmd.Context(), projectID, title, user)
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&user, "as", "", "creating user")
	return cmd
}

func newCRShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <cr-id>",
		Short: "Show a change request and its approvers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cr-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.ChangeRequest(cmd.Context(), id)
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newCRApproversCmd(o *rootOptions) *cobra.Command {
	var add, remove string
	cmd := &cobra.Command{
		Use:   "approvers <cr-id>",
		Short: "Add or remove designated approvers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cr-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.SetApprovers(cmd.Context(), id, splitList(add), splitList(remove))
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "comma-separated users to add")
	cmd.Flags().StringVar(&remove, "remove", "", "comma-separated users to remove")
	return cmd
}

func newCRDecideCmd(o *rootOptions) *cobra.Command {
	var user, reason string
	var reject bool
	cmd := &cobra.Command{
		Use:   "decide <cr-id>",
		Short: "Verify or reject a change request as an approver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cr-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.RecordApproverDecision(cmd.Context(), id, user, !reject, reason)
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&user, "as", "", "approver")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of verify")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func newCRReviseCmd(o *rootOptions) *cobra.Command {
	var title, user string
	cmd := &cobra.Command{
		Use:   "revise <cr-id>",
		Short: "Upload a new revision; approvers must decide again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cr-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.UploadRevision(cmd.Context(), id, title, user)
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title (default keeps the current one)")
	cmd.Flags().StringVar(&user, "as", "", "uploading user")
	return cmd
}

func newCRVerifyCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <cr-id> <true|false|clear>",
		Short: "Record the aggregate verification flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cr-id", args[0])
			if err != nil {
				return err
			}
			var verified *bool
			switch args[1] {
			case "true", "false":
				b := args[1] == "true"
				verified = &b
			case "clear":
			default:
				return verrors.ErrValidation("verified", "must be true, false or clear")
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.SetChangeRequestVerification(cmd.Context(), id, verified)
				if err != nil {
					return err
				}
				return o.printChangeRequest(cmd.OutOrStdout(), v)
			})
		},
	}
}
