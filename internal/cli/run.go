package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/app"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/pipeline"
)

type runFlags struct {
	distributed  bool
	scheme       string
	workers      int
	failFast     bool
	timeout      time.Duration
	rateLimitRPS float64
}

func newRunCommand(g *globals) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [raw-folder] [script-folder] [project_dir=<dir>] [distributed_root=<dir>]",
		Short: "Run every dataset of the raw folder",
		Long: `Run extracts, transforms and loads every <name>.txt file of the raw folder.

Folder tokens are suffixed with "/" when they lack one. Relative raw and script
folders are resolved against project_dir, or the working directory when no
project_dir is set. Omitted tokens keep the configured values (defaults: data/
scripts/ distributed_root=/data_out/).

A dataset that fails is reported and never loaded; the other datasets still run
unless --fail-fast is set. The exit code is 1 when any dataset failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, g, f, args)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.distributed, "distributed", false, "Write to <scheme>:<distributed_root><name> instead of the local output folder")
	fl.StringVar(&f.scheme, "scheme", "", "Distributed scheme: hdfs, foundry or file (env: ETL_DISTRIBUTED_SCHEME)")
	fl.IntVar(&f.workers, "workers", 0, "Datasets processed concurrently (env: ETL_WORKERS)")
	fl.BoolVar(&f.failFast, "fail-fast", false, "Stop starting datasets after the first failure (env: ETL_FAIL_FAST)")
	fl.DurationVar(&f.timeout, "timeout", 0, "Per-dataset extract and transform timeout, 0 disables (env: ETL_DATASET_TIMEOUT)")
	fl.Float64Var(&f.rateLimitRPS, "rate-limit-rps", 0, "Dataset start rate limit, 0 disables (env: ETL_RATE_LIMIT_RPS)")
	return cmd
}

func (f runFlags) apply(cmd *cobra.Command, cfg config.Config) config.Config {
	flags := cmd.Flags()
	if flags.Changed("distributed") {
		cfg.Distributed = f.distributed
	}
	if flags.Changed("scheme") {
		cfg.DistributedScheme = f.scheme
	}
	if flags.Changed("workers") {
		cfg.Workers = f.workers
	}
	if flags.Changed("fail-fast") {
		cfg.FailFast = f.failFast
	}
	if flags.Changed("timeout") {
		cfg.DatasetTimeout = f.timeout
	}
	if flags.Changed("rate-limit-rps") {
		cfg.RateLimitRPS = f.rateLimitRPS
	}
	return cfg
}

func runRun(cmd *cobra.Command, g *globals, f runFlags, args []string) error {
	folders, err := parseFolderArgs(args)
	if err != nil {
		return err
	}
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg = f.apply(cmd, folders.apply(cfg))
	if err := cfg.Validate(); err != nil {
		return usageWrap(err)
	}

	logger, err := g.logger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	out, err := app.Run(cmd.Context(), cfg, app.Deps{
		Logger:     logger,
		Procedures: g.procedures,
	})
	if out.RunID == "" {
		// Nothing ran: the raw folder or a backend could not be set up.
		return usageWrap(err)
	}

	printReport(cmd.OutOrStdout(), out)
	if err != nil {
		return failed(err)
	}
	if n := out.Report.Failed(); n > 0 {
		return failed(fmt.Errorf("%d of %d datasets failed", n, len(out.Report.Results)))
	}
	return nil
}

func printReport(w io.Writer, out app.Outcome) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	r := out.Report
	_, _ = bold.Fprintf(w, "Run %s -> %s\n", out.RunID, out.Destination)
	for _, res := range r.Results {
		switch res.Status {
		case pipeline.StatusOK:
			_, _ = green.Fprintf(w, "  ok      ")
			_, _ = fmt.Fprintf(w, "%-20s %6d rows  %s\n", res.Name, res.Rows, res.Output)
		case pipeline.StatusFailed:
			_, _ = red.Fprintf(w, "  failed  ")
			_, _ = fmt.Fprintf(w, "%-20s %s: %s\n", res.Name, res.Stage, res.Message)
		default:
			_, _ = yellow.Fprintf(w, "  skipped ")
			_, _ = fmt.Fprintf(w, "%s\n", res.Name)
		}
	}
	_, _ = gray.Fprintf(w, "%d succeeded, %d failed, %d skipped in %s\n",
		r.Succeeded(), r.Failed(), r.Skipped(), r.Finished.Sub(r.Started).Round(time.Millisecond))
}
