package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tenantcal/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// cliFlags holds the persistent flags of one root command.
type cliFlags struct {
	ConfigPath string
	BackendURL string
	Listen     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries the resolved config, logger and flags to subcommands.
// Cfg and Logger are populated by the root PersistentPreRunE.
type CLIContext struct {
	Flags  *cliFlags
	Cfg    *config.Config
	Logger *slog.Logger

	// logOut is where logs go; stderr outside tests.
	logOut io.Writer
}

// newRootCmd builds the fully-assembled root command.
func newRootCmd() *cobra.Command {
	cc := &CLIContext{Flags: &cliFlags{}, logOut: os.Stderr}

	cmd := &cobra.Command{
		Use:     "tenantcal",
		Short:   "Tenant calendar client",
		Long:    "Sign in to a multi-tenant calendar backend and keep a local, session-bound event cache.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cc.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cc.Flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&cc.Flags.BackendURL, "backend-url", "", "backend base URL (overrides config)")
	pf.BoolVar(&cc.Flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&cc.Flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&cc.Flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd(cc))
	cmd.AddCommand(newLogoutCmd(cc))
	cmd.AddCommand(newWhoamiCmd(cc))
	cmd.AddCommand(newStatusCmd(cc))
	cmd.AddCommand(newAuthURLCmd(cc))
	cmd.AddCommand(newEventsCmd(cc))
	cmd.AddCommand(newServeCmd(cc))

	return cmd
}

// load resolves the configuration chain and builds the logger.
func (cc *CLIContext) load(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath}

	if cmd.Flags().Changed("backend-url") {
		cli.BackendURL = &cc.Flags.BackendURL
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cli.Listen = &cc.Flags.Listen
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.Logger = buildLogger(cfg, cc.Flags, cc.logOut)
	cc.Logger.Debug("config resolved", slog.String("path", path))

	return nil
}

// buildLogger creates the logger from config and flags. The config level is
// the baseline; --verbose and --quiet override it. log_format "auto" picks
// text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Config, flags *cliFlags, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		if l, ok := config.ParseLogLevel(cfg.Logging.LogLevel); ok {
			level = l
		}

		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	if format == "auto" {
		format = "json"
		if isTerminal(out) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
