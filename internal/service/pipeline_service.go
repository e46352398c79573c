package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/definition"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
)

const RunsPageSize int64 = 20

var ErrNoJobLog = errors.New("job has no log")

type PipelineWriter interface {
	CreatePipeline(ctx context.Context, name, description, definition string) (*store.Pipeline, error)
	UpdatePipeline(ctx context.Context, id int64, name, description, definition string) error
	UpdatePipelineSchedule(ctx context.Context, id int64, schedule, ref, jobID *string) error
	UpdatePipelineScheduleJobID(ctx context.Context, id int64, jobID *string) error
	DeletePipeline(context.Context, int64) error
}

type PipelineReader interface {
	ReadPipelineByID(context.Context, int64) (*store.Pipeline, error)
	ListPipelines(context.Context) ([]*store.Pipeline, error)
	ListScheduledPipelines(context.Context) ([]*store.Pipeline, error)
}

type PipelineStore interface {
	PipelineWriter
	PipelineReader
}

type RunWriter interface {
	RunRecorder
	CreateRun(ctx context.Context, id string, pipelineID int64, ref string, isTag bool) (*store.Run, error)
	CancelUnfinishedRuns(ctx context.Context, endedOn time.Time) (int64, error)
	MarkRunArchived(ctx context.Context, id string) error
	DeleteRun(ctx context.Context, id string) error
}

type RunReader interface {
	ReadRunByID(ctx context.Context, id string) (*store.Run, error)
	ListPipelineRunsPaginated(ctx context.Context, pipelineID, limit, offset int64) ([]store.Run, error)
	ListActiveRuns(ctx context.Context, pipelineID int64, ref string) ([]store.Run, error)
	ListRunsToArchive(ctx context.Context, endedBefore time.Time) ([]store.Run, error)
	CountPipelineRuns(ctx context.Context, pipelineID int64) (int64, error)
	ReadJobResult(ctx context.Context, runID, jobName string) (*store.JobResult, error)
	ListRunJobResults(ctx context.Context, runID string) ([]store.JobResult, error)
}

type RunStore interface {
	RunWriter
	RunReader
}

type ArtifactReader interface {
	ReadArtifactByID(ctx context.Context, id int64) (*store.Artifact, error)
	ListRunArtifacts(ctx context.Context, runID string) ([]store.Artifact, error)
}

type LogArchiver interface {
	LogStore
	ArchiveRun(runID string) (int, error)
}

type RunQueuer interface {
	Enqueue(run *types.PipelineRun, jobs []types.JobDefinition) error
	CancelRun(runID string) bool
}

type PipelineServicer interface {
	CreatePipeline(ctx context.Context, name, description, source string) (*store.Pipeline, error)
	GetPipelineByID(context.Context, int64) (*store.Pipeline, error)
	ListPipelines(context.Context) ([]*store.Pipeline, error)
	UpdatePipeline(ctx context.Context, id int64, name, description, source string) error
	UpdatePipelineSchedule(ctx context.Context, id int64, schedule, ref *string) error
	DeletePipeline(context.Context, int64) error

	TriggerRun(ctx context.Context, pipelineID int64, trigger types.TriggerContext) (*store.Run, error)
	CancelRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (*store.Run, []store.JobResult, error)
	ListPipelineRuns(ctx context.Context, pipelineID, page int64) ([]store.Run, int64, error)
	OpenJobLog(ctx context.Context, runID, jobName string) (io.ReadCloser, error)

	GetArtifactByID(context.Context, int64) (*store.Artifact, error)
	ListRunArtifacts(ctx context.Context, runID string) ([]store.Artifact, error)
	ArchiveRunArtifacts(ctx context.Context, runID string) (string, error)
}

type PipelineService struct {
	pipelineStore PipelineStore
	runStore      RunStore
	artifactStore ArtifactReader
	logs          LogArchiver
	queue         RunQueuer
	scheduler     gocron.Scheduler
	artifactsDir  string
	archivesDir   string
}

func NewPipelineService(
	pipelineStore PipelineStore,
	runStore RunStore,
	artifactStore ArtifactReader,
	logs LogArchiver,
	queue RunQueuer,
	scheduler gocron.Scheduler,
	artifactsDir, archivesDir string,
) *PipelineService {
	return &PipelineService{
		pipelineStore: pipelineStore,
		runStore:      runStore,
		artifactStore: artifactStore,
		logs:          logs,
		queue:         queue,
		scheduler:     scheduler,
		artifactsDir:  artifactsDir,
		archivesDir:   archivesDir,
	}
}

func (s *PipelineService) CreatePipeline(
	ctx context.Context,
	name, description, source string,
) (*store.Pipeline, error) {
	if err := validatePipeline(name, source); err != nil {
		return nil, err
	}
	return s.pipelineStore.CreatePipeline(ctx, strings.TrimSpace(name), description, source)
}

func (s *PipelineService) GetPipelineByID(
	ctx context.Context,
	pipelineID int64,
) (*store.Pipeline, error) {
	return s.pipelineStore.ReadPipelineByID(ctx, pipelineID)
}

func (s *PipelineService) ListPipelines(
	ctx context.Context,
) ([]*store.Pipeline, error) {
	pipelines, err := s.pipelineStore.ListPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return pipelines, nil
}

func (s *PipelineService) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, source string,
) error {
	if err := validatePipeline(name, source); err != nil {
		return err
	}
	return s.pipelineStore.UpdatePipeline(ctx, id, strings.TrimSpace(name), description, source)
}

func validatePipeline(name, source string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{Message: "pipeline name must not be empty"}
	}
	_, err := definition.Parse([]byte(source))
	return err
}

func (s *PipelineService) DeletePipeline(ctx context.Context, id int64) error {
	p, err := s.pipelineStore.ReadPipelineByID(ctx, id)
	if err != nil {
		return err
	}
	s.removeScheduledJob(p)
	return s.pipelineStore.DeletePipeline(ctx, id)
}

// UpdatePipelineSchedule replaces the cron schedule of a pipeline. A nil or
// empty schedule removes it.
func (s *PipelineService) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, ref *string,
) error {
	p, err := s.pipelineStore.ReadPipelineByID(ctx, id)
	if err != nil {
		return err
	}

	if schedule == nil || strings.TrimSpace(*schedule) == "" {
		s.removeScheduledJob(p)
		return s.pipelineStore.UpdatePipelineSchedule(ctx, p.PipelineID, nil, nil, nil)
	}
	if ref == nil || strings.TrimSpace(*ref) == "" {
		return ValidationError{Message: "a scheduled pipeline needs a ref to run on"}
	}

	jobID, err := s.SchedulePipelineRun(p.PipelineID, *schedule, *ref)
	if err != nil {
		return err
	}
	s.removeScheduledJob(p)
	return s.pipelineStore.UpdatePipelineSchedule(ctx, p.PipelineID, schedule, ref, jobID)
}

func (s *PipelineService) removeScheduledJob(p *store.Pipeline) {
	if s.scheduler == nil || p.ScheduleJobID == nil {
		return
	}
	jobID, err := uuid.Parse(*p.ScheduleJobID)
	if err != nil {
		return
	}
	if err := s.scheduler.RemoveJob(jobID); err != nil {
		log.Println("unable to remove existing job: ", err)
	}
}

// SchedulePipelineRun registers a cron job that triggers a run of the
// pipeline on ref and returns the job's id.
func (s *PipelineService) SchedulePipelineRun(
	pipelineID int64,
	schedule, ref string,
) (*string, error) {
	if s.scheduler == nil {
		return nil, nil
	}
	job, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if _, err := s.TriggerRun(
				context.Background(),
				pipelineID,
				types.NewBranchTrigger(ref),
			); err != nil {
				log.Printf("err triggering scheduled run of pipeline %d: %+v\n", pipelineID, err)
			}
		}))
	if err != nil {
		return nil, ValidationError{Message: fmt.Sprintf("invalid schedule %q: %v", schedule, err)}
	}
	return util.AsPtr(job.ID().String()), nil
}

// InitializeSchedules registers the cron jobs of every scheduled pipeline.
// Job ids change between restarts so they are written back.
func (s *PipelineService) InitializeSchedules(ctx context.Context) error {
	pipelines, err := s.pipelineStore.ListScheduledPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	for _, p := range pipelines {
		if p.Schedule == nil || p.ScheduleRef == nil {
			continue
		}
		jobID, err := s.SchedulePipelineRun(p.PipelineID, *p.Schedule, *p.ScheduleRef)
		if err != nil {
			log.Printf("err scheduling pipeline %s: %+v\n", p.Name, err)
			continue
		}
		if err := s.pipelineStore.UpdatePipelineScheduleJobID(ctx, p.PipelineID, jobID); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleArchive registers the daily job that archives finished runs.
func (s *PipelineService) ScheduleArchive() error {
	if s.scheduler == nil {
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			olderThan := time.Duration(internal.Config.ArchiveAfterHours)
			n, err := s.ArchiveRuns(context.Background(), olderThan)
			if err != nil {
				log.Printf("err archiving runs: %+v\n", err)
				return
			}
			if n > 0 {
				log.Printf("archived %d runs\n", n)
			}
		}),
		gocron.WithName(internal.ArchiveJobName),
	)
	return err
}

// TriggerRun creates a run of the pipeline for trigger and queues it. The
// definition is parsed first; a definition that does not parse creates no
// run at all.
func (s *PipelineService) TriggerRun(
	ctx context.Context,
	pipelineID int64,
	trigger types.TriggerContext,
) (*store.Run, error) {
	if strings.TrimSpace(trigger.RefName) == "" {
		return nil, ValidationError{Message: "ref must not be empty"}
	}
	p, err := s.pipelineStore.ReadPipelineByID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	pd, err := definition.Parse([]byte(p.Definition))
	if err != nil {
		return nil, err
	}
	jobs, err := definition.NewStoreFromDefinition(pd)
	if err != nil {
		return nil, err
	}

	r, err := s.runStore.CreateRun(ctx, uuid.NewString(), pipelineID, trigger.RefName, trigger.IsTagPush)
	if err != nil {
		return nil, err
	}
	if internal.Config != nil && internal.Config.CancelSupersededRuns {
		s.cancelSupersededRuns(ctx, r)
	}

	pr := types.NewPipelineRun(r.RunID, pipelineID, trigger)
	if err := s.queue.Enqueue(pr, jobs.List()); err != nil {
		if delErr := s.runStore.DeleteRun(context.Background(), r.RunID); delErr != nil {
			return nil, errors.Join(err, delErr)
		}
		return nil, err
	}
	return r, nil
}

func (s *PipelineService) cancelSupersededRuns(ctx context.Context, r *store.Run) {
	active, err := s.runStore.ListActiveRuns(ctx, r.RunPipelineID, r.Ref)
	if err != nil {
		log.Printf("err listing active runs of pipeline %d: %+v\n", r.RunPipelineID, err)
		return
	}
	for _, older := range active {
		if older.RunID == r.RunID {
			continue
		}
		if s.queue.CancelRun(older.RunID) {
			log.Printf("run %s superseded by run %s\n", older.RunID, r.RunID)
		}
	}
}

// CancelRun cancels a queued or running run. Interruptible jobs stop before
// their next step; other jobs run to completion.
func (s *PipelineService) CancelRun(ctx context.Context, runID string) error {
	if s.queue.CancelRun(runID) {
		return nil
	}
	if _, err := s.runStore.ReadRunByID(ctx, runID); err != nil {
		return err
	}
	return ErrRunNotActive
}

// CancelUnfinishedRuns marks runs left queued or running by a previous
// process as cancelled.
func (s *PipelineService) CancelUnfinishedRuns(ctx context.Context) (int64, error) {
	return s.runStore.CancelUnfinishedRuns(ctx, time.Now().UTC())
}

func (s *PipelineService) GetRun(
	ctx context.Context,
	runID string,
) (*store.Run, []store.JobResult, error) {
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.runStore.ListRunJobResults(ctx, runID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}
	return r, results, nil
}

// ListPipelineRuns returns one page of runs, newest first, and the total
// number of runs of the pipeline. Pages start at 1.
func (s *PipelineService) ListPipelineRuns(
	ctx context.Context,
	pipelineID, page int64,
) ([]store.Run, int64, error) {
	page = max(page, 1)
	runs, err := s.runStore.ListPipelineRunsPaginated(
		ctx, pipelineID, RunsPageSize, (page-1)*RunsPageSize,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	count, err := s.runStore.CountPipelineRuns(ctx, pipelineID)
	if err != nil {
		return nil, 0, err
	}
	return runs, count, nil
}

func (s *PipelineService) OpenJobLog(
	ctx context.Context,
	runID, jobName string,
) (io.ReadCloser, error) {
	jr, err := s.runStore.ReadJobResult(ctx, runID, jobName)
	if err != nil {
		return nil, err
	}
	if jr.LogRef == "" {
		return nil, ErrNoJobLog
	}
	return s.logs.Open(jr.LogRef)
}

func (s *PipelineService) GetArtifactByID(ctx context.Context, id int64) (*store.Artifact, error) {
	return s.artifactStore.ReadArtifactByID(ctx, id)
}

func (s *PipelineService) ListRunArtifacts(
	ctx context.Context,
	runID string,
) ([]store.Artifact, error) {
	artifacts, err := s.artifactStore.ListRunArtifacts(ctx, runID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return artifacts, nil
}

// ArchiveRunArtifacts zips the collected artifacts of a run and returns the
// path of the archive.
func (s *PipelineService) ArchiveRunArtifacts(ctx context.Context, runID string) (string, error) {
	if _, err := s.runStore.ReadRunByID(ctx, runID); err != nil {
		return "", err
	}
	src := filepath.Join(s.artifactsDir, runID)
	exists, err := util.PathExists(src)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", sql.ErrNoRows
	}
	if err := os.MkdirAll(s.archivesDir, os.ModePerm); err != nil {
		return "", err
	}
	return util.ArchiveDirectory(src, filepath.Join(s.archivesDir, runID+".zip"))
}

// ArchiveRuns compresses the job logs of runs that ended more than olderThan
// ago and marks them archived. It returns the number of runs archived.
func (s *PipelineService) ArchiveRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	runs, err := s.runStore.ListRunsToArchive(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	archived := 0
	for _, r := range runs {
		if _, err := s.logs.ArchiveRun(r.RunID); err != nil {
			return archived, err
		}
		if err := s.runStore.MarkRunArchived(ctx, r.RunID); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}
