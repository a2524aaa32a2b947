package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/app"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/computemodule"
)

func newServeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run pipelines as Foundry compute module jobs",
		Long: `serve polls GET_JOB_URI for jobs and posts each run summary to POST_RESULT_URI.

A job query may override raw_folder, script_folder, project_dir,
distributed_root, distributed and fail_fast; other settings come from the
config file and environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return usageWrap(err)
			}
			cmCfg, ok, err := computemodule.LoadConfigFromEnv()
			if err != nil {
				return usageWrap(err)
			}
			if !ok {
				return usageErr("GET_JOB_URI and POST_RESULT_URI are required for serve")
			}

			logger, err := g.logger(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			client, err := computemodule.NewClient(cmCfg, logger)
			if err != nil {
				return usageWrap(err)
			}
			err = client.Run(cmd.Context(), app.JobHandler(cfg, app.Deps{
				Logger:     logger,
				Procedures: g.procedures,
			}))
			if errors.Is(err, context.Canceled) {
				logger.Info("compute module client stopped")
				return nil
			}
			if err != nil {
				logger.Error("compute module client", zap.Error(err))
				return failed(err)
			}
			return nil
		},
	}
}
