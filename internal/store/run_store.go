package store

import (
	"strings"
	"time"

	"github.com/haatos/simple-dispatch/internal/types"
)

type Run struct {
	RunID         string          `json:"run_id" param:"run_id"`
	RunPipelineID int64           `json:"pipeline_id"`
	Ref           string          `json:"ref"`
	IsTag         bool            `json:"tag"`
	Status        types.RunStatus `json:"status"`
	CreatedOn     time.Time       `json:"created_on"`
	StartedOn     *time.Time      `json:"started_on"`
	EndedOn       *time.Time      `json:"ended_on"`
	Archived      bool            `json:"archived"`
}

func (r *Run) Trigger() types.TriggerContext {
	if r.IsTag {
		return types.NewTagTrigger(r.Ref)
	}
	return types.NewBranchTrigger(r.Ref)
}

type JobResult struct {
	JobResultID    int64            `json:"-"`
	JobResultRunID string           `json:"run_id"`
	JobName        string           `json:"job_name"`
	Status         types.JobStatus  `json:"status"`
	SkipReason     types.SkipReason `json:"skip_reason,omitempty"`
	RunnerName     string           `json:"runner_name,omitempty"`
	ExitCode       int              `json:"exit_code"`
	FailedStep     int              `json:"failed_step"`
	Error          string           `json:"error,omitempty"`
	LogRef         string           `json:"-"`
	Warnings       string           `json:"-"`
	StartedOn      *time.Time       `json:"started_on"`
	EndedOn        *time.Time       `json:"ended_on"`
}

func (jr *JobResult) WarningList() []string {
	if jr.Warnings == "" {
		return []string{}
	}
	return strings.Split(jr.Warnings, "\n")
}

type Artifact struct {
	ArtifactID    int64     `json:"artifact_id" param:"artifact_id"`
	ArtifactRunID string    `json:"run_id"`
	JobName       string    `json:"job_name"`
	Report        string    `json:"report,omitempty"`
	Pattern       string    `json:"pattern"`
	Path          string    `json:"-"`
	Digest        string    `json:"blake3"`
	Size          int64     `json:"size"`
	CreatedOn     time.Time `json:"created_on"`
}
