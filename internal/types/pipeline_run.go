package types

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPassed    RunStatus = "passed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

type ErrDuplicateResult struct {
	JobName string
}

func (e ErrDuplicateResult) Error() string {
	return fmt.Sprintf("result for job %q already recorded", e.JobName)
}

// PipelineRun owns the trigger context and the results of one invocation.
// Results are append-only; at most one result is recorded per job.
type PipelineRun struct {
	ID         string
	PipelineID int64
	Trigger    TriggerContext
	CreatedOn  time.Time

	mu        sync.Mutex
	results   []ExecutionResult
	cancelled bool
}

func NewPipelineRun(id string, pipelineID int64, trigger TriggerContext) *PipelineRun {
	return &PipelineRun{
		ID:         id,
		PipelineID: pipelineID,
		Trigger:    trigger,
		CreatedOn:  time.Now().UTC(),
	}
}

func (pr *PipelineRun) Record(result ExecutionResult) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if !result.Status.IsTerminal() {
		return fmt.Errorf("job %q: cannot record non-terminal status %s", result.JobName, result.Status)
	}
	if slices.ContainsFunc(pr.results, func(r ExecutionResult) bool {
		return r.JobName == result.JobName
	}) {
		return ErrDuplicateResult{JobName: result.JobName}
	}
	pr.results = append(pr.results, result.clone())
	return nil
}

func (pr *PipelineRun) Result(jobName string) (ExecutionResult, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, r := range pr.results {
		if r.JobName == jobName {
			return r.clone(), true
		}
	}
	return ExecutionResult{}, false
}

// Results returns a copy of the recorded results in recording order.
func (pr *PipelineRun) Results() []ExecutionResult {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	results := make([]ExecutionResult, len(pr.results))
	for i, r := range pr.results {
		results[i] = r.clone()
	}
	return results
}

func (pr *PipelineRun) MarkCancelled() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.cancelled = true
}

// Failed reports whether any recorded job fails the run. Jobs that failed
// with allow_failure set do not.
func (pr *PipelineRun) Failed() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return slices.ContainsFunc(pr.results, func(r ExecutionResult) bool {
		return r.Status.FailsPipeline()
	})
}

func (pr *PipelineRun) Status() RunStatus {
	failed := pr.Failed()
	pr.mu.Lock()
	defer pr.mu.Unlock()
	switch {
	case pr.cancelled:
		return RunCancelled
	case failed:
		return RunFailed
	}
	return RunPassed
}
