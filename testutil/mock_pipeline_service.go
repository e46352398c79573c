package testutil

import (
	"context"
	"io"

	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockPipelineService struct {
	mock.Mock
}

func (m *MockPipelineService) CreatePipeline(
	ctx context.Context,
	name, description, source string,
) (*store.Pipeline, error) {
	args := m.Called(ctx, name, description, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Pipeline), args.Error(1)
}

func (m *MockPipelineService) GetPipelineByID(
	ctx context.Context,
	id int64,
) (*store.Pipeline, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Pipeline), args.Error(1)
}

func (m *MockPipelineService) ListPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Pipeline), args.Error(1)
}

func (m *MockPipelineService) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, source string,
) error {
	args := m.Called(ctx, id, name, description, source)
	return args.Error(0)
}

func (m *MockPipelineService) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, ref *string,
) error {
	args := m.Called(ctx, id, schedule, ref)
	return args.Error(0)
}

func (m *MockPipelineService) DeletePipeline(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPipelineService) TriggerRun(
	ctx context.Context,
	pipelineID int64,
	trigger types.TriggerContext,
) (*store.Run, error) {
	args := m.Called(ctx, pipelineID, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockPipelineService) CancelRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockPipelineService) GetRun(
	ctx context.Context,
	runID string,
) (*store.Run, []store.JobResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	var results []store.JobResult
	if args.Get(1) != nil {
		results = args.Get(1).([]store.JobResult)
	}
	return args.Get(0).(*store.Run), results, args.Error(2)
}

func (m *MockPipelineService) ListPipelineRuns(
	ctx context.Context,
	pipelineID, page int64,
) ([]store.Run, int64, error) {
	args := m.Called(ctx, pipelineID, page)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]store.Run), args.Get(1).(int64), args.Error(2)
}

func (m *MockPipelineService) OpenJobLog(
	ctx context.Context,
	runID, jobName string,
) (io.ReadCloser, error) {
	args := m.Called(ctx, runID, jobName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockPipelineService) GetArtifactByID(
	ctx context.Context,
	id int64,
) (*store.Artifact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Artifact), args.Error(1)
}

func (m *MockPipelineService) ListRunArtifacts(
	ctx context.Context,
	runID string,
) ([]store.Artifact, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Artifact), args.Error(1)
}

func (m *MockPipelineService) ArchiveRunArtifacts(
	ctx context.Context,
	runID string,
) (string, error) {
	args := m.Called(ctx, runID)
	return args.String(0), args.Error(1)
}
