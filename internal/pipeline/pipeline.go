// Package pipeline drives every dataset of a set through extract, transform
// and load on a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/dataset"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/engine"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/redact"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/transform"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/worker"
)

// Engine reads inputs and writes outputs.
type Engine interface {
	engine.Reader
	engine.Writer
}

type Options struct {
	// Workers bounds how many datasets run at once. 1 runs them one after another.
	Workers int
	// ToDistributed sends outputs to the distributed destination instead of the local one.
	ToDistributed bool
	// FailFast stops starting datasets after the first failure and returns it.
	// Otherwise every dataset runs and failures are only reported.
	FailFast bool
	// DatasetTimeout bounds one dataset's extract and transform; a dataset past
	// its timeout does not start loading. Zero means none.
	DatasetTimeout time.Duration
	// RateLimitRPS limits how fast datasets start. Zero disables it.
	RateLimitRPS float64

	Engine     Engine
	Procedures transform.Source
	Logger     *zap.Logger

	// OnResult is called once per finished dataset, in completion order.
	OnResult func(Result)
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome for one dataset.
type Result struct {
	Name   string
	Input  string
	Output string
	Status Status
	// Stage is the last stage reached.
	Stage core.Stage
	// Kind is the lifecycle error kind, nil on success or cancellation.
	Kind error
	Err  error
	// Message is Err with secrets redacted, safe to log or persist.
	Message  string
	Rows     int
	Duration time.Duration
}

type Report struct {
	Started  time.Time
	Finished time.Time
	Results  []Result
}

func (r Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

func (r Report) Succeeded() int { return r.count(StatusOK) }
func (r Report) Failed() int    { return r.count(StatusFailed) }
func (r Report) Skipped() int   { return r.count(StatusSkipped) }

// Err joins the errors of every failed dataset, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed && res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Run processes every dataset in set. Within a dataset the stages run in
// order; datasets run independently of each other.
//
// The returned error is the first dataset failure when opts.FailFast is set,
// or the context error when ctx ends before every dataset started. Per-dataset
// failures under the default policy are only recorded in the Report.
func Run(ctx context.Context, set *dataset.Set, opts Options) (Report, error) {
	if opts.Engine == nil || opts.Procedures == nil {
		return Report{}, fmt.Errorf("pipeline: engine and procedures are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}

	items := set.Datasets()
	report := Report{Started: time.Now()}
	logger.Info("run start",
		zap.Int("datasets", len(items)),
		zap.Int("workers", opts.Workers),
		zap.Bool("distributed", opts.ToDistributed),
		zap.Bool("fail_fast", opts.FailFast),
	)

	process := func(ctx context.Context, d *dataset.Dataset) (Result, error) {
		res := runDataset(ctx, d, opts)
		return res, res.Err
	}
	var onResult func(worker.Result[*dataset.Dataset, Result]) error
	if opts.OnResult != nil {
		onResult = func(r worker.Result[*dataset.Dataset, Result]) error {
			opts.OnResult(r.Output)
			return nil
		}
	}

	out, runErr := worker.ProcessAllWithCallback(ctx, items, process, onResult, worker.Options{
		Workers:       opts.Workers,
		RateLimitRPS:  opts.RateLimitRPS,
		FailurePolicy: policy,
	})

	report.Results = make([]Result, 0, len(out))
	for _, r := range out {
		if !r.Done {
			report.Results = append(report.Results, Result{
				Name:   r.Input.Name,
				Input:  r.Input.InputFilePath,
				Output: r.Input.Destination(opts.ToDistributed),
				Status: StatusSkipped,
			})
			continue
		}
		report.Results = append(report.Results, r.Output)
		if r.Output.Status == StatusFailed {
			logger.Warn("dataset failed",
				zap.String("dataset", r.Output.Name),
				zap.String("stage", string(r.Output.Stage)),
				zap.String("error", r.Output.Message),
			)
		}
	}
	report.Finished = time.Now()

	logger.Info("run done",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Int("skipped", report.Skipped()),
		zap.Duration("duration", report.Finished.Sub(report.Started)),
	)
	return report, runErr
}

// runDataset runs the three stages of d in order and stops at the first failure.
func runDataset(ctx context.Context, d *dataset.Dataset, opts Options) Result {
	start := time.Now()
	res := Result{
		Name:   d.Name,
		Input:  d.InputFilePath,
		Output: d.Destination(opts.ToDistributed),
		Stage:  core.StageExtract,
	}
	finish := func(err error) Result {
		res.Duration = time.Since(start)
		if err == nil {
			res.Status = StatusOK
			if t := d.Table(); t != nil {
				res.Rows = t.NumRows()
			}
			return res
		}
		res.Status = StatusFailed
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Stopped by the run, not by its own failure.
			res.Status = StatusSkipped
		}
		res.Err = err
		res.Kind = core.KindOf(err)
		res.Message = redact.Secrets(err.Error())
		return res
	}

	stageCtx := ctx
	if opts.DatasetTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, opts.DatasetTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	if _, err := d.Extract(stageCtx, opts.Engine); err != nil {
		return finish(err)
	}

	res.Stage = core.StageTransform
	if err := d.Transform(stageCtx, opts.Procedures); err != nil {
		return finish(err)
	}

	// Load checks ctx once and then writes to completion.
	res.Stage = core.StageLoad
	return finish(d.Load(stageCtx, opts.Engine, opts.ToDistributed))
}
