// Package cli implements the verity command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/verity/internal/config"
)

// rootOptions holds the global flags and the viper instance that discovers
// the config file.
type rootOptions struct {
	cfgFile string
	verbose bool
	jsonOut bool

	v *viper.Viper
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		PrintError(cmd.ErrOrStderr(), err, verboseFlag(cmd))
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "verity",
		Short: "Engineering-verification lifecycle engine",
		Long: `verity tracks multi-phase verification projects. Each phase holds ordered
tasks; a task completes once every assigned reviewer has submitted its
document, and non-conformances escalate through a role chain as incidents.

Quick start:
  verity migrate                          Create or upgrade the database
  verity templates seed templates.yaml    Load phase and task templates
  verity project create --name "Pump 7" --equipment PUMP --phases FAT,SAT
  verity serve                            Start the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			o.initConfig(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&o.cfgFile, "config", "", "config file (default is .verity/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&o.jsonOut, "json", false, "output as JSON")

	cmd.AddCommand(newMigrateCmd(o))
	cmd.AddCommand(newServeCmd(o))
	cmd.AddCommand(newTemplatesCmd(o))
	cmd.AddCommand(newProjectCmd(o))
	cmd.AddCommand(newTaskCmd(o))
	cmd.AddCommand(newDocumentCmd(o))
	cmd.AddCommand(newIncidentCmd(o))
	cmd.AddCommand(newChangeRequestCmd(o))
	cmd.AddCommand(newSettingsCmd(o))
	cmd.AddCommand(newRoleCmd(o))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// initConfig locates the config file and installs the default logger.
func (o *rootOptions) initConfig(stderr io.Writer) {
	slog.SetDefault(newLogger(stderr, o.verbose))

	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else {
		o.v.AddConfigPath(config.VerityDir)
		o.v.AddConfigPath("$HOME/" + config.VerityDir)
		o.v.SetConfigType("yaml")
		o.v.SetConfigName("config")
	}

	o.v.SetEnvPrefix("VERITY")
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	if err := o.v.ReadInConfig(); err == nil {
		slog.Debug("using config file", "path", o.v.ConfigFileUsed())
	}
}

// loadConfig loads the typed configuration from the discovered file and
// applies flag overrides bound into viper.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	if o.v.IsSet("server.addr") {
		cfg.Server.Addr = o.v.GetString("server.addr")
	}
	return cfg, nil
}

// newLogger returns a text logger for terminals and a JSON logger otherwise.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func verboseFlag(cmd *cobra.Command) bool {
	v, err := cmd.PersistentFlags().GetBool("verbose")
	return err == nil && v
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show verity version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "verity version 0.1.0-dev")
		},
	}
}
