package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
)

// Coordinator executes a single job on the runner it was assigned to.
type Coordinator struct {
	workspaces     WorkspaceOpener
	logs           LogStore
	artifacts      *ArtifactCollector
	defaultTimeout time.Duration
}

// NewCoordinator returns a coordinator. defaultTimeout applies to jobs that
// do not declare their own timeout; zero means no timeout.
func NewCoordinator(
	workspaces WorkspaceOpener,
	logs LogStore,
	artifacts *ArtifactCollector,
	defaultTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		workspaces:     workspaces,
		logs:           logs,
		artifacts:      artifacts,
		defaultTimeout: defaultTimeout,
	}
}

// Execute runs the steps of job in order on runner and returns its terminal
// result. Steps stop at the first non-zero exit. Cancelling ctx stops the
// job before its next step; the running step is left to finish unless the
// job timeout expires first. After steps run once the steps are done unless
// the job was cancelled.
func (c *Coordinator) Execute(
	ctx context.Context,
	run *types.PipelineRun,
	job types.JobDefinition,
	runner types.Runner,
) types.ExecutionResult {
	result := types.ExecutionResult{
		JobName:    job.Name,
		Status:     types.JobRunning,
		RunnerName: runner.Name,
		FailedStep: -1,
		StartedOn:  util.AsPtr(time.Now().UTC()),
	}

	var out io.Writer = io.Discard
	if c.logs != nil {
		w, ref, err := c.logs.Create(run.ID, job.Name)
		if err != nil {
			log.Printf("err creating log for job %s of run %s: %+v\n", job.Name, run.ID, err)
		} else {
			defer w.Close()
			out = w
			result.LogRef = ref
		}
	}
	fmt.Fprintf(out, "Running job '%s' on runner %s\n", job.Name, runner)

	if ctx.Err() != nil {
		return c.finish(out, cancelled(result))
	}

	ws, err := c.workspaces.Open(ctx, runner, run.ID, job.Name)
	if err != nil {
		if ctx.Err() != nil {
			return c.finish(out, cancelled(result))
		}
		fmt.Fprintf(out, "err preparing workspace: %+v\n", err)
		result.Error = fmt.Sprintf("err preparing workspace: %v", err)
		result.ExitCode = -1
		return c.finish(out, failed(result, job.FailureAllowed(result.ExitCode)))
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Printf("err closing workspace of job %s: %+v\n", job.Name, err)
		}
	}()

	env := JobEnvironment(run, job, runner, ws.Dir(), ws.LookupEnv)
	result = c.runSteps(ctx, job, ws, env, out, result)
	if result.Status != types.JobCancelled && len(job.AfterSteps) > 0 {
		result.Warnings = append(result.Warnings, c.runAfterSteps(ctx, job, ws, env, out)...)
	}

	if c.artifacts != nil {
		artifacts, warnings := c.artifacts.Collect(ctx, ws, run.ID, job, result)
		result.Artifacts = artifacts
		result.Warnings = append(result.Warnings, warnings...)
		for _, w := range warnings {
			fmt.Fprintf(out, "WARNING: %s\n", w)
		}
	}
	return c.finish(out, result)
}

func (c *Coordinator) runSteps(
	ctx context.Context,
	job types.JobDefinition,
	ws Workspace,
	env []types.EnvVar,
	out io.Writer,
	result types.ExecutionResult,
) types.ExecutionResult {
	// steps run on a context detached from run cancellation so a cancel
	// only takes effect between steps
	jobCtx := context.WithoutCancel(ctx)
	timeout := c.timeoutFor(job)
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, timeout)
		defer cancel()
	}

	for i, step := range job.Steps {
		if ctx.Err() != nil {
			return cancelled(result)
		}
		fmt.Fprintf(out, "$ %s\n", step)

		code, err := ws.RunStep(jobCtx, step, env, out)
		if err == nil && code == 0 {
			continue
		}

		result.FailedStep = i
		result.ExitCode = code
		if errors.Is(err, context.DeadlineExceeded) {
			err = JobTimeoutError{Timeout: timeout.String()}
		}
		stepErr := &StepFailureError{Step: i, Command: step, ExitCode: code, Err: err}
		result.Error = stepErr.Error()
		fmt.Fprintf(out, "ERROR: %s\n", result.Error)
		return failed(result, job.FailureAllowed(code))
	}

	result.Status = types.JobPassed
	return result
}

// runAfterSteps runs the job's after steps with a timeout of their own. A
// failing after step ends the remaining ones and is reported as a warning.
func (c *Coordinator) runAfterSteps(
	ctx context.Context,
	job types.JobDefinition,
	ws Workspace,
	env []types.EnvVar,
	out io.Writer,
) []string {
	afterCtx := context.WithoutCancel(ctx)
	if timeout := c.timeoutFor(job); timeout > 0 {
		var cancel context.CancelFunc
		afterCtx, cancel = context.WithTimeout(afterCtx, timeout)
		defer cancel()
	}

	fmt.Fprintln(out, "Running after script")
	for i, step := range job.AfterSteps {
		fmt.Fprintf(out, "$ %s\n", step)
		code, err := ws.RunStep(afterCtx, step, env, out)
		if err == nil && code == 0 {
			continue
		}
		stepErr := &StepFailureError{Step: i, Command: step, ExitCode: code, Err: err}
		warning := "after script " + stepErr.Error()
		fmt.Fprintf(out, "WARNING: %s\n", warning)
		return []string{warning}
	}
	return nil
}

func (c *Coordinator) timeoutFor(job types.JobDefinition) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	return c.defaultTimeout
}

func (c *Coordinator) finish(out io.Writer, result types.ExecutionResult) types.ExecutionResult {
	result.EndedOn = util.AsPtr(time.Now().UTC())
	switch result.Status {
	case types.JobPassed:
		fmt.Fprintln(out, "Job succeeded")
	case types.JobFailedAllowed:
		fmt.Fprintln(out, "Job failed (allowed to fail)")
	case types.JobCancelled:
		fmt.Fprintln(out, "Job cancelled")
	default:
		fmt.Fprintln(out, "Job failed")
	}
	return result
}

func failed(result types.ExecutionResult, allowFailure bool) types.ExecutionResult {
	if allowFailure {
		result.Status = types.JobFailedAllowed
	} else {
		result.Status = types.JobFailed
	}
	return result
}

func cancelled(result types.ExecutionResult) types.ExecutionResult {
	result.Status = types.JobCancelled
	result.Error = RunCancelError{Message: "job cancelled"}.Error()
	return result
}
