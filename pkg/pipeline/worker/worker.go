// Package worker runs independent items on a bounded pool of goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	// FailurePolicyPartialOutput runs every item and reports failures per item.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast stops starting new items after the first failure.
	FailurePolicyFailFast
)

const DefaultWorkers = 4

type Options struct {
	// Workers bounds how many items run at once. Zero or less means DefaultWorkers.
	Workers int
	// ItemTimeout bounds one processor call. Zero means no timeout.
	ItemTimeout time.Duration
	// RateLimitRPS limits how fast items start across all workers. Zero or less disables it.
	RateLimitRPS  float64
	FailurePolicy FailurePolicy
}

// Result holds the output for one input item. Done is false for items that
// were never started because the run stopped early.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
	Done   bool
}

// ProcessAll runs processor over every item.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs processor over every item and calls onResult,
// from the calling goroutine, as each item completes.
//
// The returned slice is in input order and always has len(items) entries.
// The error is the first item failure under FailurePolicyFailFast, the first
// callback error, or the context error when ctx ended before all items ran.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &pool[In, Out]{opts: opts, process: processor, cancel: cancel}
	if opts.RateLimitRPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	results := make([]Result[In, Out], len(items))
	for i, item := range items {
		results[i].Input = item
	}

	next := make(chan int)
	go func() {
		defer close(next)
		for i := range items {
			select {
			case next <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	finished := make(chan int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				if !p.run(runCtx, &results[i]) {
					return
				}
				finished <- i
				if results[i].Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
					p.stop(results[i].Err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(finished)
	}()

	// Every finished item reaches onResult, even after the run was stopped.
	for i := range finished {
		if onResult == nil {
			continue
		}
		if err := onResult(results[i]); err != nil {
			p.stop(err)
		}
	}

	if p.err != nil {
		return results, p.err
	}
	return results, ctx.Err()
}

type pool[In any, Out any] struct {
	opts    Options
	process func(context.Context, In) (Out, error)
	limiter *rate.Limiter

	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// stop records the first error and cancels the run.
func (p *pool[In, Out]) stop(err error) {
	p.once.Do(func() {
		p.err = err
		p.cancel()
	})
}

// run processes res.Input in place. It returns false, leaving res untouched,
// when the run ended before the item could start.
func (p *pool[In, Out]) run(ctx context.Context, res *Result[In, Out]) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.limiter != nil && p.limiter.Wait(ctx) != nil {
		return false
	}

	itemCtx := ctx
	if p.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, p.opts.ItemTimeout)
		defer cancel()
	}
	res.Output, res.Err = p.process(itemCtx, res.Input)
	res.Done = true
	return true
}
