package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newDocumentCmd creates the document command
func newDocumentCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "document",
		Aliases: []string{"doc"},
		Short:   "Save, submit and inspect task documents",
	}
	cmd.AddCommand(newDocumentShowCmd(o))
	cmd.AddCommand(newDocumentHistoryCmd(o))
	cmd.AddCommand(newDocumentSaveCmd(o))
	cmd.AddCommand(newDocumentSubmitCmd(o))
	cmd.AddCommand(newDocumentRevertCmd(o))
	return cmd
}

// documentFlags are the flags shared by the document mutations.
type documentFlags struct {
	user    string
	content string
	file    string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "as", "", "acting user")
	cmd.Flags().StringVar(&f.content, "content", "", "document content")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read content from file (- for stdin)")
}

func newDocumentShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the task's latest document",
		Long: `Show the task's latest document. Without one, the phase's current draft
is shown, and failing that the archived reference document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				latest, err := a.engine.GetLatestDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), latest, func(w io.Writer) {
					version := "draft"
					if latest.Version != nil {
						version = fmt.Sprintf("v%d", *latest.Version)
					}
					fmt.Fprintln(w, subtleStyle.Render(fmt.Sprintf("source: %s  %s", latest.Source, version)))
					fmt.Fprintln(w, latest.Content)
				})
			})
		},
	}
}

func newDocumentHistoryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "List every stored version of the task's document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task-id", args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				docs, err := a.engine.DocumentHistory(cmd.Context(), id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), docs, func(w io.Writer) {
					for _, d := range docs {
						version := "draft"
						if d.Version != nil {
							version = fmt.Sprintf("v%d", *d.Version)
						}
						marker := " "
						if d.IsLatest {
							marker = "*"
						}
						fmt.Fprintf(w, "%s #%d %-6s %s %s\n", marker, d.ID, version, d.AuthorID,
							subtleStyle.Render(d.UpdatedAt.Format("2006-01-02 15:04")))
					}
				})
			})
		},
	}
}

func newDocumentSaveCmd(o *rootOptions) *cobra.Command {
	var f documentFlags
	cmd := &cobra.Command{
		Use:   "save <task-id>",
		Short: "Save the task's working draft",
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
				res, err := a.engine.SaveDraft(cmd.Context(), id, content, f.user)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Saved draft #%d for task #%d\n", res.DocumentID, id)
				})
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newDocumentSubmitCmd(o *rootOptions) *cobra.Command {
	var f documentFlags
	var target string
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit the task's document as one of its reviewers",
		Long: `Submit the task's document as one of its reviewers. Once every reviewer
has submitted, the task moves to --status and the next task or phase
activates.`,
		Args: cobra.ExactArgs(1),
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
				res, err := a.engine.SubmitDocument(cmd.Context(), id, content, target, f.user)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Task #%d: %s (%d/%d submitted), document v%d\n",
						id, res.CompletionState, res.SubmittedCount, res.RequiredCount, res.Version)
					if c := res.Cascade; c != nil {
						if c.ActivatedTaskID != 0 {
							fmt.Fprintf(w, "  activated task #%d\n", c.ActivatedTaskID)
						}
						if c.ClosedPhaseID != 0 {
							fmt.Fprintf(w, "  closed phase #%d\n", c.ClosedPhaseID)
						}
						if c.ActivatedPhaseID != 0 {
							fmt.Fprintf(w, "  activated phase #%d\n", c.ActivatedPhaseID)
						}
						if c.ProjectCompleted {
							fmt.Fprintln(w, doneStyle.Render("  project completed"))
						}
					}
				})
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&target, "status", "completed", "status once all reviewers submit: completed or closed")
	return cmd
}

func newDocumentRevertCmd(o *rootOptions) *cobra.Command {
	var f documentFlags
	cmd := &cobra.Command{
		Use:   "revert <task-id>",
		Short: "Send the task back for rework and reopen the task before it",
		Long: `Send the task back for rework and reopen the task before it. The content
must be a JSON document with at least one comment marked "resolved": false.`,
		Args: cobra.ExactArgs(1),
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
				res, err := a.engine.RevertTask(cmd.Context(), id, content, f.user)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Task #%d in rework (document v%d), reopened task #%d\n", id, res.Version, res.ReopenedTaskID)
				})
			})
		},
	}
	f.register(cmd)
	return cmd
}
