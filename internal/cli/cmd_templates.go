package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

// templateFile is the YAML seed file layout.
type templateFile struct {
	Phases []db.PhaseTemplate `yaml:"phases"`
}

// newTemplatesCmd creates the templates command
func newTemplatesCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage phase and task templates",
	}
	cmd.AddCommand(newTemplatesSeedCmd(o))
	cmd.AddCommand(newTemplatesListCmd(o))
	return cmd
}

func newTemplatesSeedCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or update templates from a YAML file",
		Long: `Create or update templates from a YAML file. Templates are keyed by code.

Example file:
  phases:
    - code: FAT
      name: Factory acceptance
      order_index: 1
      tasks:
        - code: T1
          name: Visual inspection
          order_index: 1
          default_required_count: 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.SeedTemplates(cmd.Context(), templates); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d phase templates\n", len(templates))
				return nil
			})
		},
	}
}

func readTemplateFile(path string) ([]db.PhaseTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, verrors.ErrValidation("templates", fmt.Sprintf("parse %s: %v", path, err))
	}
	if len(f.Phases) == 0 {
		return nil, verrors.ErrValidation("templates", fmt.Sprintf("%s has no phases", path))
	}
	return f.Phases, nil
}

func newTemplatesListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				templates, err := a.engine.Templates(cmd.Context())
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), templates, func(w io.Writer) {
					for _, pt := range templates {
						fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(pt.Code), pt.Name)
						for _, tt := range pt.Tasks {
							fmt.Fprintf(w, "  %-8s %s %s\n", tt.Code, tt.Name,
								subtleStyle.Render(fmt.Sprintf("(required %d)", tt.DefaultRequiredCount)))
						}
					}
				})
			})
		},
	}
}
