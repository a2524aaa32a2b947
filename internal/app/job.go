package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/computemodule"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/dataset"
)

// JobQuery is the query of a compute module job. Unset fields keep the
// values of the base config.
type JobQuery struct {
	RawFolder       string `json:"raw_folder"`
	ScriptFolder    string `json:"script_folder"`
	ProjectDir      string `json:"project_dir"`
	DistributedRoot string `json:"distributed_root"`
	Distributed     *bool  `json:"distributed"`
	FailFast        *bool  `json:"fail_fast"`
}

// Apply returns base with the query's folders applied.
func (q JobQuery) Apply(base config.Config) config.Config {
	cfg := base
	if q.RawFolder != "" {
		cfg.RawFolder = dataset.WithSlash(q.RawFolder)
	}
	if q.ScriptFolder != "" {
		cfg.ScriptFolder = dataset.WithSlash(q.ScriptFolder)
	}
	if q.ProjectDir != "" {
		cfg.ProjectDir = dataset.WithSlash(q.ProjectDir)
	}
	if q.DistributedRoot != "" {
		cfg.DistributedRoot = dataset.WithSlash(q.DistributedRoot)
	}
	if q.Distributed != nil {
		cfg.Distributed = *q.Distributed
	}
	if q.FailFast != nil {
		cfg.FailFast = *q.FailFast
	}
	return cfg
}

// JobResult is posted back for every job.
type JobResult struct {
	RunID     string          `json:"run_id"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Datasets  []JobDatasetRow `json:"datasets"`
}

type JobDatasetRow struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
	Output string `json:"output"`
	Rows   int    `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// JobHandler runs one pipeline per compute module job, on top of base.
func JobHandler(base config.Config, deps Deps) computemodule.Handler {
	return func(ctx context.Context, job computemodule.Job) ([]byte, error) {
		var q JobQuery
		if len(bytes.TrimSpace(job.Query)) > 0 {
			if err := json.Unmarshal(job.Query, &q); err != nil {
				return nil, fmt.Errorf("parse job query: %w", err)
			}
		}

		jobDeps := deps
		jobDeps.RunID = job.JobID
		out, err := Run(ctx, q.Apply(base), jobDeps)
		if out.RunID == "" {
			return nil, err
		}

		res := JobResult{
			RunID:     out.RunID,
			Succeeded: out.Report.Succeeded(),
			Failed:    out.Report.Failed(),
			Skipped:   out.Report.Skipped(),
			Datasets:  make([]JobDatasetRow, 0, len(out.Report.Results)),
		}
		for _, r := range out.Report.Results {
			res.Datasets = append(res.Datasets, JobDatasetRow{
				Name:   r.Name,
				Status: string(r.Status),
				Stage:  string(r.Stage),
				Output: r.Output,
				Rows:   r.Rows,
				Error:  r.Message,
			})
		}
		b, merr := json.Marshal(res)
		if merr != nil {
			return nil, merr
		}
		if err == nil {
			err = out.Report.Err()
		}
		return b, err
	}
}
