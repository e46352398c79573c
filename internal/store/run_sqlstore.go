package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/simple-dispatch/internal/types"
)

type RunSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLStore(rdb, rwdb *sql.DB) *RunSQLStore {
	return &RunSQLStore{rdb, rwdb}
}

func (store *RunSQLStore) CreateRun(
	ctx context.Context,
	id string,
	pipelineID int64,
	ref string,
	isTag bool,
) (*Run, error) {
	r := &Run{
		RunID:         id,
		RunPipelineID: pipelineID,
		Ref:           ref,
		IsTag:         isTag,
		Status:        types.RunQueued,
		CreatedOn:     time.Now().UTC(),
	}
	query := `insert into runs (
		run_id,
		run_pipeline_id,
		ref,
		is_tag,
		status,
		created_on
	)
	values ($1, $2, $3, $4, $5, $6)`
	if _, err := store.rwdb.ExecContext(
		ctx, query,
		r.RunID,
		r.RunPipelineID,
		r.Ref,
		r.IsTag,
		r.Status,
		r.CreatedOn,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLStore) ReadRunByID(ctx context.Context, id string) (*Run, error) {
	r := &Run{RunID: id}
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, r.RunID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLStore) UpdateRunStartedOn(
	ctx context.Context,
	id string,
	status types.RunStatus,
	startedOn time.Time,
) error {
	query := `update runs
	set status = $1,
		started_on = $2
	where run_id = $3`
	return execAffecting(store.rwdb.ExecContext(ctx, query, status, startedOn, id))
}

func (store *RunSQLStore) UpdateRunEndedOn(
	ctx context.Context,
	id string,
	status types.RunStatus,
	endedOn time.Time,
) error {
	query := `update runs
	set status = $1,
		ended_on = $2
	where run_id = $3`
	return execAffecting(store.rwdb.ExecContext(ctx, query, status, endedOn, id))
}

// CancelUnfinishedRuns marks runs left queued or running by a previous
// process as cancelled.
func (store *RunSQLStore) CancelUnfinishedRuns(ctx context.Context, endedOn time.Time) (int64, error) {
	query := `update runs
	set status = $1,
		ended_on = $2
	where status in ($3, $4)`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		types.RunCancelled,
		endedOn,
		types.RunQueued,
		types.RunRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (store *RunSQLStore) MarkRunArchived(ctx context.Context, id string) error {
	query := `update runs set archived = $1 where run_id = $2`
	return execAffecting(store.rwdb.ExecContext(ctx, query, true, id))
}

func (store *RunSQLStore) DeleteRun(ctx context.Context, id string) error {
	query := "delete from runs where run_id = $1"
	return execAffecting(store.rwdb.ExecContext(ctx, query, id))
}

func (store *RunSQLStore) ListPipelineRunsPaginated(
	ctx context.Context,
	pipelineID, limit, offset int64,
) ([]Run, error) {
	query := `select * from runs
	where run_pipeline_id = $1
	order by created_on desc limit $2 offset $3`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, pipelineID, limit, offset)
	return runs, err
}

// ListActiveRuns returns the queued and running runs of a pipeline for ref,
// oldest first.
func (store *RunSQLStore) ListActiveRuns(
	ctx context.Context,
	pipelineID int64,
	ref string,
) ([]Run, error) {
	query := `select * from runs
	where run_pipeline_id = $1
		and ref = $2
		and status in ($3, $4)
	order by created_on`
	runs := make([]Run, 0)
	err := sqlscan.Select(
		ctx, store.rdb, &runs, query,
		pipelineID,
		ref,
		types.RunQueued,
		types.RunRunning,
	)
	return runs, err
}

// ListRunsToArchive returns finished runs that ended before the given time
// and are not archived yet.
func (store *RunSQLStore) ListRunsToArchive(
	ctx context.Context,
	endedBefore time.Time,
) ([]Run, error) {
	query := `select * from runs
	where archived = $1
		and ended_on is not null
		and ended_on < $2
	order by ended_on`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, false, endedBefore)
	return runs, err
}

func (store *RunSQLStore) CountPipelineRuns(
	ctx context.Context,
	pipelineID int64,
) (int64, error) {
	var count int64
	query := `select count(*) from runs where run_pipeline_id = $1`
	err := sqlscan.Get(ctx, store.rdb, &count, query, pipelineID)
	return count, err
}

func (store *RunSQLStore) CreateJobResult(
	ctx context.Context,
	runID string,
	result types.ExecutionResult,
) (*JobResult, error) {
	jr := &JobResult{
		JobResultRunID: runID,
		JobName:        result.JobName,
		Status:         result.Status,
		SkipReason:     result.SkipReason,
		RunnerName:     result.RunnerName,
		ExitCode:       result.ExitCode,
		FailedStep:     result.FailedStep,
		Error:          result.Error,
		LogRef:         result.LogRef,
		Warnings:       strings.Join(result.Warnings, "\n"),
		StartedOn:      result.StartedOn,
		EndedOn:        result.EndedOn,
	}
	query := `insert into job_results (
		job_result_run_id,
		job_name,
		status,
		skip_reason,
		runner_name,
		exit_code,
		failed_step,
		error,
		log_ref,
		warnings,
		started_on,
		ended_on
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	returning job_result_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, jr, query,
		jr.JobResultRunID,
		jr.JobName,
		jr.Status,
		jr.SkipReason,
		jr.RunnerName,
		jr.ExitCode,
		jr.FailedStep,
		jr.Error,
		jr.LogRef,
		jr.Warnings,
		jr.StartedOn,
		jr.EndedOn,
	); err != nil {
		return nil, err
	}
	return jr, nil
}

func (store *RunSQLStore) ReadJobResult(
	ctx context.Context,
	runID, jobName string,
) (*JobResult, error) {
	jr := new(JobResult)
	query := `select * from job_results
	where job_result_run_id = $1 and job_name = $2`
	if err := sqlscan.Get(ctx, store.rdb, jr, query, runID, jobName); err != nil {
		return nil, err
	}
	return jr, nil
}

func (store *RunSQLStore) ListRunJobResults(
	ctx context.Context,
	runID string,
) ([]JobResult, error) {
	query := `select * from job_results
	where job_result_run_id = $1
	order by job_result_id`
	results := make([]JobResult, 0)
	err := sqlscan.Select(ctx, store.rdb, &results, query, runID)
	return results, err
}
