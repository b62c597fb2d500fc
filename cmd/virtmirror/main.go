package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/agent"
	"github.com/jbweber/virtmirror/internal/config"
	"github.com/jbweber/virtmirror/internal/loader"
	"github.com/jbweber/virtmirror/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath   string
	logLevel     string
	scopeFlags   []string
	outputFormat string
	noHeaders    bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "virtmirror",
	Short: "virtmirror - live mirror of libvirt state",
	Long: `virtmirror keeps an in-memory mirror of libvirt domains, networks,
storage pools, node devices and host interfaces, updated from libvirt
events, and serves it over a small HTTP API.

The one-shot commands connect directly, print what they find and exit.`,
	Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "configuration file (defaults plus VIRTMIRROR_* variables when empty)")
	flags.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flags.StringSliceVar(&scopeFlags, "scope", nil, "scopes to connect to: system, session")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
	flags.BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(detectOSCmd)
}

// setup loads the configuration, applies the flag overrides and attaches
// the logger to the command context.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if len(scopeFlags) > 0 {
		loaded.Scopes = nil
		for _, raw := range scopeFlags {
			scope, err := v1alpha1.ParseScope(raw)
			if err != nil {
				return err
			}
			loaded.Scopes = append(loaded.Scopes, scope)
		}
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := output.ValidateFormat(outputFormat); err != nil {
		return err
	}

	logger, err := newLogger(loaded.Log, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	if err != nil {
		return err
	}
	cfg = loaded
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

// newFormatter builds the formatter selected by --output.
func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
		Color:     !color.NoColor,
	})
}

// openAgent builds an agent for a one-shot command. The caller closes it.
var openAgent = func(ctx context.Context) *agent.Agent {
	return agent.New(ctx, cfg)
}

func closeAgent(ctx context.Context, a *agent.Agent) {
	if err := a.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close libvirt connections")
	}
}
