package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/app"
)

func newHistoryCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent runs from the run history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return usageErr("--limit must be >= 1, got %d", limit)
			}
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := app.Recent(cmd.Context(), cfg.HistoryPath, limit)
			if err != nil {
				return usageWrap(err)
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, _ = fmt.Fprintf(w, "No runs recorded in %s\n", cfg.HistoryPath)
				return nil
			}
			cyan := color.New(color.FgCyan, color.Bold)
			green := color.New(color.FgGreen)
			red := color.New(color.FgRed)
			for _, run := range runs {
				_, _ = cyan.Fprintf(w, "%s  %s\n", run.StartedAt.Local().Format(time.DateTime), run.ID)
				_, _ = fmt.Fprintf(w, "  destination: %s\n", run.Destination)
				status := green
				if run.Failed > 0 {
					status = red
				}
				_, _ = status.Fprintf(w, "  %d datasets, %d failed, %s\n",
					run.Datasets, run.Failed, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
				for _, res := range run.Results {
					line := fmt.Sprintf("    %-8s %-20s %s", res.Status, res.Name, res.Stage)
					if res.Error != "" {
						line += ": " + res.Error
					}
					_, _ = fmt.Fprintln(w, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}
