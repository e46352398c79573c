package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal/util"
	"github.com/stretchr/testify/assert"
)

func TestPipelineSQLStore_CreatePipeline(t *testing.T) {
	t.Run("success - pipeline created", func(t *testing.T) {
		// arrange
		name := "create pipeline " + uuid.NewString()
		description := "create pipeline success"
		definition := "build:\n  script: make\n"

		// act
		p, err := pipelineStore.CreatePipeline(context.Background(), name, description, definition)

		// assert
		assert.NoError(t, err)
		assert.NotZero(t, p.PipelineID)
		assert.Equal(t, name, p.Name)
		assert.Equal(t, description, p.Description)
		assert.Equal(t, definition, p.Definition)
		assert.Nil(t, p.Schedule)
	})
}

func TestPipelineSQLStore_ReadPipelineByID(t *testing.T) {
	t.Run("success - pipeline found", func(t *testing.T) {
		// arrange
		expectedPipeline := generatePipeline(t)

		// act
		p, err := pipelineStore.ReadPipelineByID(context.Background(), expectedPipeline.PipelineID)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, expectedPipeline.Name, p.Name)
		assert.Equal(t, expectedPipeline.Definition, p.Definition)
	})
	t.Run("failure - pipeline not found", func(t *testing.T) {
		// arrange
		var id int64 = 43241

		// act
		p, err := pipelineStore.ReadPipelineByID(context.Background(), id)

		// assert
		assert.Error(t, err)
		assert.True(t, errors.Is(err, sql.ErrNoRows))
		assert.Nil(t, p)
	})
}

func TestPipelineSQLStore_UpdatePipeline(t *testing.T) {
	t.Run("success - pipeline updated", func(t *testing.T) {
		// arrange
		p := generatePipeline(t)
		definition := "lint:\n  script: make lint\n"

		// act
		err := pipelineStore.UpdatePipeline(context.Background(), p.PipelineID, p.Name, "updated", definition)
		updated, readErr := pipelineStore.ReadPipelineByID(context.Background(), p.PipelineID)

		// assert
		assert.NoError(t, err)
		assert.NoError(t, readErr)
		assert.Equal(t, "updated", updated.Description)
		assert.Equal(t, definition, updated.Definition)
	})
	t.Run("failure - pipeline not found", func(t *testing.T) {
		// act
		err := pipelineStore.UpdatePipeline(context.Background(), 43241, "x", "", "")

		// assert
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPipelineSQLStore_UpdatePipelineSchedule(t *testing.T) {
	t.Run("success - schedule set and listed", func(t *testing.T) {
		// arrange
		p := generatePipeline(t)
		schedule := util.AsPtr("0 3 * * *")
		ref := util.AsPtr("main")
		jobID := util.AsPtr(uuid.NewString())

		// act
		err := pipelineStore.UpdatePipelineSchedule(context.Background(), p.PipelineID, schedule, ref, jobID)
		scheduled, listErr := pipelineStore.ListScheduledPipelines(context.Background())

		// assert
		assert.NoError(t, err)
		assert.NoError(t, listErr)
		i := slices.IndexFunc(scheduled, func(s *Pipeline) bool { return s.PipelineID == p.PipelineID })
		if assert.NotEqual(t, -1, i) {
			assert.Equal(t, *schedule, *scheduled[i].Schedule)
			assert.Equal(t, *ref, *scheduled[i].ScheduleRef)
			assert.Equal(t, *jobID, *scheduled[i].ScheduleJobID)
		}
	})
	t.Run("success - schedule cleared", func(t *testing.T) {
		// arrange
		p := generatePipeline(t)
		_ = pipelineStore.UpdatePipelineSchedule(
			context.Background(), p.PipelineID,
			util.AsPtr("@daily"), util.AsPtr("main"), util.AsPtr(uuid.NewString()),
		)

		// act
		err := pipelineStore.UpdatePipelineSchedule(context.Background(), p.PipelineID, nil, nil, nil)
		updated, readErr := pipelineStore.ReadPipelineByID(context.Background(), p.PipelineID)

		// assert
		assert.NoError(t, err)
		assert.NoError(t, readErr)
		assert.Nil(t, updated.Schedule)
		assert.Nil(t, updated.ScheduleJobID)
	})
}

func TestPipelineSQLStore_DeletePipeline(t *testing.T) {
	t.Run("success - pipeline and its runs deleted", func(t *testing.T) {
		// arrange
		p := generatePipeline(t)
		r := generateRun(t, p, "main")

		// act
		err := pipelineStore.DeletePipeline(context.Background(), p.PipelineID)
		_, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, err)
		assert.ErrorIs(t, readErr, sql.ErrNoRows)
	})
}

func TestPipelineSQLStore_ListPipelines(t *testing.T) {
	// arrange
	p := generatePipeline(t)

	// act
	pipelines, err := pipelineStore.ListPipelines(context.Background())

	// assert
	assert.NoError(t, err)
	assert.True(t, slices.ContainsFunc(pipelines, func(o *Pipeline) bool {
		return o.PipelineID == p.PipelineID
	}))
}
