package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/app"
)

func newListCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list [raw-folder] [script-folder] [project_dir=<dir>] [distributed_root=<dir>]",
		Short: "Print the datasets a run would process",
		RunE: func(cmd *cobra.Command, args []string) error {
			folders, err := parseFolderArgs(args)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = folders.apply(cfg)

			set, err := app.List(cmd.Context(), cfg)
			if err != nil {
				return usageWrap(err)
			}

			w := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan, color.Bold)
			gray := color.New(color.FgHiBlack)
			if set.Len() == 0 {
				_, _ = fmt.Fprintf(w, "No datasets found in %s\n", app.ScanOptions(cfg, nil).RawDir())
				return nil
			}
			for _, d := range set.Datasets() {
				_, _ = cyan.Fprintln(w, d.Name)
				_, _ = gray.Fprintf(w, "  input:       %s\n", d.InputFilePath)
				_, _ = gray.Fprintf(w, "  script:      %s\n", d.TransformScriptPath)
				_, _ = gray.Fprintf(w, "  local:       %s\n", d.OutputLocalPath)
				_, _ = gray.Fprintf(w, "  distributed: %s\n", d.OutputDistributedPath)
			}
			_, _ = fmt.Fprintf(w, "%d datasets\n", set.Len())
			return nil
		},
	}
}
