package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type PipelineSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewPipelineSQLStore(rdb, rwdb *sql.DB) *PipelineSQLStore {
	return &PipelineSQLStore{rdb, rwdb}
}

func (store *PipelineSQLStore) CreatePipeline(
	ctx context.Context,
	name, description, definition string,
) (*Pipeline, error) {
	p := &Pipeline{
		Name:        name,
		Description: description,
		Definition:  definition,
		CreatedOn:   time.Now().UTC(),
	}
	query := `insert into pipelines (
		name,
		description,
		definition,
		created_on
	)
	values ($1, $2, $3, $4)
	returning pipeline_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, p, query,
		p.Name,
		p.Description,
		p.Definition,
		p.CreatedOn,
	); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *PipelineSQLStore) ReadPipelineByID(
	ctx context.Context,
	id int64,
) (*Pipeline, error) {
	p := &Pipeline{PipelineID: id}
	query := "select * from pipelines where pipeline_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, p, query, p.PipelineID); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *PipelineSQLStore) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, definition string,
) error {
	query := `update pipelines
	set name = $1,
		description = $2,
		definition = $3
	where pipeline_id = $4`
	return execAffecting(store.rwdb.ExecContext(
		ctx, query,
		name,
		description,
		definition,
		id,
	))
}

func (store *PipelineSQLStore) DeletePipeline(ctx context.Context, id int64) error {
	query := "delete from pipelines where pipeline_id = $1"
	return execAffecting(store.rwdb.ExecContext(ctx, query, id))
}

func (store *PipelineSQLStore) ListPipelines(ctx context.Context) ([]*Pipeline, error) {
	query := "select * from pipelines order by pipeline_id"
	pipelines := make([]*Pipeline, 0)
	err := sqlscan.Select(ctx, store.rdb, &pipelines, query)
	return pipelines, err
}

func (store *PipelineSQLStore) ListScheduledPipelines(ctx context.Context) ([]*Pipeline, error) {
	query := "select * from pipelines where schedule is not null order by pipeline_id"
	pipelines := make([]*Pipeline, 0)
	err := sqlscan.Select(ctx, store.rdb, &pipelines, query)
	return pipelines, err
}

func (store *PipelineSQLStore) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, scheduleRef, scheduleJobID *string,
) error {
	query := `update pipelines
	set schedule = $1,
		schedule_ref = $2,
		schedule_job_id = $3
	where pipeline_id = $4`
	return execAffecting(store.rwdb.ExecContext(
		ctx, query,
		schedule,
		scheduleRef,
		scheduleJobID,
		id,
	))
}

func (store *PipelineSQLStore) UpdatePipelineScheduleJobID(
	ctx context.Context,
	id int64,
	scheduleJobID *string,
) error {
	query := `update pipelines
	set schedule_job_id = $1
	where pipeline_id = $2`
	return execAffecting(store.rwdb.ExecContext(ctx, query, scheduleJobID, id))
}
