package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
)

type RunnerAcquirer interface {
	Acquire(ctx context.Context, job types.JobDefinition) (types.Runner, func(), error)
}

type JobExecutor interface {
	Execute(
		ctx context.Context,
		run *types.PipelineRun,
		job types.JobDefinition,
		runner types.Runner,
	) types.ExecutionResult
}

// ResultFunc is called once for every result recorded on a run.
type ResultFunc func(run *types.PipelineRun, result types.ExecutionResult)

// Dispatcher runs the jobs of a pipeline run concurrently. Each job is
// checked against its rules, waits for an eligible runner and is executed
// on it.
type Dispatcher struct {
	runners  RunnerAcquirer
	executor JobExecutor
	onResult ResultFunc
}

func NewDispatcher(runners RunnerAcquirer, executor JobExecutor, onResult ResultFunc) *Dispatcher {
	return &Dispatcher{runners: runners, executor: executor, onResult: onResult}
}

// Dispatch runs jobs for run and returns once every job has a result.
// Cancelling ctx stops interruptible jobs at their next step boundary and
// marks the run cancelled.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	run *types.PipelineRun,
	jobs []types.JobDefinition,
) types.RunStatus {
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Go(func() {
			d.record(run, d.dispatchJob(ctx, run, job))
		})
	}
	wg.Wait()

	for _, r := range run.Results() {
		if r.Status == types.JobCancelled {
			run.MarkCancelled()
			break
		}
	}
	return run.Status()
}

func (d *Dispatcher) dispatchJob(
	ctx context.Context,
	run *types.PipelineRun,
	job types.JobDefinition,
) types.ExecutionResult {
	if !ShouldRun(job, run.Trigger) {
		return types.NewSkippedResult(job.Name, types.SkipRule)
	}

	if !job.Interruptible {
		ctx = context.WithoutCancel(ctx)
	}

	runner, release, err := d.runners.Acquire(ctx, job)
	if errors.Is(err, ErrNoRunnerMatch) {
		return types.NewSkippedResult(job.Name, types.SkipNoRunnerMatch)
	}
	if err != nil {
		return types.ExecutionResult{
			JobName:    job.Name,
			Status:     types.JobCancelled,
			FailedStep: -1,
			Error:      RunCancelError{Message: "job cancelled while waiting for a runner"}.Error(),
			EndedOn:    util.AsPtr(time.Now().UTC()),
		}
	}
	defer release()

	return d.executor.Execute(ctx, run, job, runner)
}

func (d *Dispatcher) record(run *types.PipelineRun, result types.ExecutionResult) {
	if err := run.Record(result); err != nil {
		log.Printf("err recording result of job %s: %+v\n", result.JobName, err)
		return
	}
	if d.onResult != nil {
		d.onResult(run, result)
	}
}
