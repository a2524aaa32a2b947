// Package app wires configuration, storage backends, procedures and the run
// ledger around a pipeline run.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/dataset"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/history"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/pipeline"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/foundry"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/engine"
	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
	foundryio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io/foundry"
	hdfsio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io/hdfs"
	localio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io/local"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/transform"
)

// Deps are optional collaborators. Zero values are built from the config and
// the process environment.
type Deps struct {
	Logger *zap.Logger
	// Procedures holds compiled procedures. Datasets without one fall back to
	// their YAML script.
	Procedures *transform.Registry
	// HDFS replaces dialing the configured namenodes.
	HDFS hdfsio.FileSystem
	// Foundry replaces reading the Foundry env vars.
	Foundry *foundry.Env
	// RunID replaces the generated run ID.
	RunID string
	// OnResult is called once per finished dataset.
	OnResult func(pipeline.Result)
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Outcome is a finished run.
type Outcome struct {
	RunID       string
	Destination string
	Report      pipeline.Report
}

// ScanOptions maps the run folders of cfg onto dataset construction options.
func ScanOptions(cfg config.Config, logger *zap.Logger) dataset.ScanOptions {
	return dataset.ScanOptions{
		RawFolder:         cfg.RawFolder,
		ScriptFolder:      cfg.ScriptFolder,
		ProjectDir:        cfg.ProjectDir,
		DistributedRoot:   cfg.DistributedRoot,
		DistributedScheme: cfg.DistributedScheme,
		Logger:            logger,
	}
}

// List builds the dataset set cfg would run, without running it.
func List(ctx context.Context, cfg config.Config) (*dataset.Set, error) {
	return dataset.Scan(ctx, ScanOptions(cfg, nil))
}

// NewRouter registers the local store and, when cfg sends outputs to a
// distributed destination, the store for its scheme.
func NewRouter(cfg config.Config, deps Deps) (*pipelineio.Router, error) {
	router := pipelineio.NewRouter()
	router.Register("file", localio.NewStore())
	if !cfg.Distributed {
		return router, nil
	}

	scheme := strings.ToLower(cfg.DistributedScheme)
	switch scheme {
	case "file":
	case "hdfs":
		fs := deps.HDFS
		if fs == nil {
			hc, err := hdfsConfig(cfg.HDFS)
			if err != nil {
				return nil, err
			}
			c, err := hdfsio.Dial(hc)
			if err != nil {
				return nil, err
			}
			fs = c
		}
		router.Register(scheme, hdfsio.NewStore(fs))
	case "foundry":
		env := deps.Foundry
		if env == nil {
			loaded, err := foundry.LoadEnv()
			if err != nil {
				return nil, fmt.Errorf("foundry env: %w", err)
			}
			env = &loaded
		}
		client, err := foundry.NewClient(env.Services.APIGateway, env.Token, env.DefaultCAPath)
		if err != nil {
			return nil, err
		}
		router.Register(scheme, foundryio.NewStore(client, env.Aliases))
	default:
		return nil, fmt.Errorf("unsupported distributed scheme %q", cfg.DistributedScheme)
	}
	return router, nil
}

// hdfsConfig fills namenodes and user from SOURCE_CREDENTIALS when the
// config names a source and leaves them empty.
func hdfsConfig(c config.HDFS) (hdfsio.Config, error) {
	out := hdfsio.Config{Namenodes: c.Namenodes, User: c.User}
	if c.Source == "" || (len(out.Namenodes) > 0 && out.User != "") {
		return out, nil
	}
	creds, err := foundry.LoadSourceCredentialsFromEnv()
	if err != nil {
		return hdfsio.Config{}, err
	}
	if len(out.Namenodes) == 0 {
		v, err := creds.RequireSecret(c.Source, "Namenodes")
		if err != nil {
			return hdfsio.Config{}, err
		}
		out.Namenodes = config.SplitList(v)
	}
	if out.User == "" {
		out.User, _ = creds.Secret(c.Source, "User")
	}
	return out, nil
}

// Run scans the raw folder, runs every dataset and records the run in the
// ledger when one is configured. The returned error covers setup problems and
// fail-fast aborts; per-dataset failures are in the report.
func Run(ctx context.Context, cfg config.Config, deps Deps) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return Outcome{}, err
	}
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := deps.logger().With(zap.String("run_id", runID))

	router, err := NewRouter(cfg, deps)
	if err != nil {
		return Outcome{}, err
	}
	procs := deps.Procedures
	if procs == nil {
		procs = transform.NewRegistry()
	}

	set, err := dataset.Scan(ctx, ScanOptions(cfg, logger))
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{RunID: runID, Destination: destination(cfg)}
	report, runErr := pipeline.Run(ctx, set, pipeline.Options{
		Workers:        cfg.Workers,
		ToDistributed:  cfg.Distributed,
		FailFast:       cfg.FailFast,
		DatasetTimeout: cfg.DatasetTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		Engine:         engine.New(router),
		Procedures:     procs,
		Logger:         logger,
		OnResult:       deps.OnResult,
	})
	out.Report = report

	if cfg.HistoryPath != "" {
		if err := record(context.WithoutCancel(ctx), cfg.HistoryPath, out); err != nil {
			logger.Warn("record run history", zap.Error(err))
		}
	}
	return out, runErr
}

func destination(cfg config.Config) string {
	if cfg.Distributed {
		return cfg.DistributedScheme + ":" + dataset.WithSlash(cfg.DistributedRoot)
	}
	return "file:" + dataset.WithSlash(cfg.ProjectDir) + dataset.OutputFolder
}

func record(ctx context.Context, path string, out Outcome) error {
	store, err := history.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return store.RecordRun(ctx, ToHistory(out))
}

// ToHistory converts a finished run into its ledger row.
func ToHistory(out Outcome) history.Run {
	r := out.Report
	run := history.Run{
		ID:          out.RunID,
		StartedAt:   r.Started,
		FinishedAt:  r.Finished,
		Destination: out.Destination,
		Datasets:    len(r.Results),
		Failed:      r.Failed(),
		Results:     make([]history.DatasetResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		run.Results = append(run.Results, history.DatasetResult{
			Name:     res.Name,
			Stage:    string(res.Stage),
			Status:   string(res.Status),
			Rows:     res.Rows,
			Error:    res.Message,
			Duration: res.Duration,
		})
	}
	return run
}

// Recent reads the newest runs from the ledger at path.
func Recent(ctx context.Context, path string, limit int) ([]history.Run, error) {
	if path == "" {
		return nil, errors.New("no history path configured (--history or ETL_HISTORY_PATH)")
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.Recent(ctx, limit)
}
