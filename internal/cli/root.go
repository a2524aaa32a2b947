// Package cli implements the etl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/logging"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/version"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/redact"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/transform"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, args ...any) error {
	return &exitError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

func usageWrap(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: ExitUsage, err: err}
}

func failed(err error) error {
	return &exitError{code: ExitFailed, err: err}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath  string
	logLevel    string
	logFormat   string
	historyPath string
	noColor     bool

	// procedures are compiled procedures made available to runs.
	procedures *transform.Registry
}

// loadConfig resolves defaults, the config file and the environment, then
// the persistent flags that were set explicitly.
func (g *globals) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, usageWrap(err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if flags.Changed("history") {
		cfg.HistoryPath = g.historyPath
	}
	return cfg, nil
}

func (g *globals) logger(cmd *cobra.Command, cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWriter(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())
	if err != nil {
		return nil, usageWrap(err)
	}
	return logger, nil
}

// NewRootCommand builds the etl command tree. procs may be nil.
func NewRootCommand(procs *transform.Registry) *cobra.Command {
	g := &globals{procedures: procs}

	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Extract, transform and load a folder of pipe-delimited datasets",
		Long: `etl treats every <name>.txt file of a raw folder as a dataset, transforms
it with the procedure registered for <name> or the script <script-folder>/<name>.yaml,
and writes the result to <project_dir>data_output/<name> or, with --distributed,
to <scheme>:<distributed_root><name>.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (default .etl/config.yaml when present)")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn, error (env: ETL_LOG_LEVEL)")
	pf.StringVar(&g.logFormat, "log-format", "console", "Log format: console or json (env: ETL_LOG_FORMAT)")
	pf.StringVar(&g.historyPath, "history", "", "Run history database; empty disables it (env: ETL_HISTORY_PATH)")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newRunCommand(g))
	cmd.AddCommand(newListCommand(g))
	cmd.AddCommand(newHistoryCommand(g))
	cmd.AddCommand(newServeCommand(g))
	return cmd
}

// Execute runs the command tree and maps the outcome to an exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, procs *transform.Registry) int {
	cmd := NewRootCommand(procs)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	_, _ = fmt.Fprintf(stderr, "Error: %s\n", redact.Secrets(err.Error()))

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Errors from cobra itself are flag and argument problems.
	return ExitUsage
}
