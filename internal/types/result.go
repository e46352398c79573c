package types

import (
	"slices"
	"time"
)

type JobStatus string

const (
	JobPending       JobStatus = "pending"
	JobRunning       JobStatus = "running"
	JobPassed        JobStatus = "passed"
	JobFailed        JobStatus = "failed"
	JobFailedAllowed JobStatus = "failed_allowed"
	JobSkipped       JobStatus = "skipped"
	JobCancelled     JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobPassed, JobFailed, JobFailedAllowed, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// FailsPipeline reports whether a job ending in this status marks its run as
// failed. Cancelled counts as a failure and is not subject to allow_failure.
func (s JobStatus) FailsPipeline() bool {
	return s == JobFailed || s == JobCancelled
}

type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipRule          SkipReason = "rule_skip"
	SkipNoRunnerMatch SkipReason = "no_runner_match"
)

func (r SkipReason) Message() string {
	switch r {
	case SkipRule:
		return "excluded by only/except rules"
	case SkipNoRunnerMatch:
		return "no eligible runner"
	}
	return ""
}

// PublishedArtifact is a collected output file as stored by the artifact sink.
type PublishedArtifact struct {
	RunID   string
	JobName string
	Report  ReportKind
	Pattern string
	Path    string
	Digest  string
	Size    int64
}

// ExecutionResult is the outcome of one job in one pipeline run. It is built
// once the job reaches a terminal state and is never modified afterwards.
type ExecutionResult struct {
	JobName    string
	Status     JobStatus
	SkipReason SkipReason
	RunnerName string
	ExitCode   int
	FailedStep int
	Error      string
	LogRef     string
	Artifacts  []PublishedArtifact
	Warnings   []string
	StartedOn  *time.Time
	EndedOn    *time.Time
}

// ArtifactsProduced returns the stored paths of the collected artifacts in
// declaration order.
func (er ExecutionResult) ArtifactsProduced() []string {
	paths := make([]string, len(er.Artifacts))
	for i, a := range er.Artifacts {
		paths[i] = a.Path
	}
	return paths
}

func (er ExecutionResult) clone() ExecutionResult {
	er.Artifacts = slices.Clone(er.Artifacts)
	er.Warnings = slices.Clone(er.Warnings)
	return er
}

func NewSkippedResult(jobName string, reason SkipReason) ExecutionResult {
	return ExecutionResult{
		JobName:    jobName,
		Status:     JobSkipped,
		SkipReason: reason,
		FailedStep: -1,
	}
}
