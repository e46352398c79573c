package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haatos/simple-dispatch/internal/definition"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/haatos/simple-dispatch/internal/util"
	"github.com/haatos/simple-dispatch/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefinition = `build:
  script:
    - make
`

func TestPipelinesHandler_GetPipelines(t *testing.T) {
	t.Run("success - pipelines listed", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("ListPipelines", context.Background()).
			Return([]*store.Pipeline{pipeline}, nil)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipelines(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		var pipelines []store.Pipeline
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pipelines))
		assert.Len(t, pipelines, 1)
		assert.Equal(t, pipeline.Name, pipelines[0].Name)
		assert.Equal(t, pipeline.Definition, pipelines[0].Definition)
	})
	t.Run("success - no pipelines is an empty list", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("ListPipelines", context.Background()).
			Return(nil, nil)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipelines(c)

		// assert
		assert.NoError(t, err)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestPipelinesHandler_PostPipeline(t *testing.T) {
	t.Run("success - pipeline created", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"CreatePipeline",
			context.Background(),
			pipeline.Name, pipeline.Description, pipeline.Definition,
		).Return(pipeline, nil)

		body, _ := json.Marshal(map[string]string{
			"name":        "  " + pipeline.Name + " ",
			"description": pipeline.Description,
			"definition":  pipeline.Definition,
		})
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/pipelines", strings.NewReader(string(body)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipeline(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"pipeline_id":%d`, pipeline.PipelineID))
		mockPipelineService.AssertExpectations(t)
	})
	t.Run("failure - invalid definition", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"CreatePipeline",
			context.Background(),
			"broken", "", "build: {}",
		).Return(nil, &definition.ParseError{Job: "build", Field: "script", Message: "is required"})

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines",
			strings.NewReader(`{"name":"broken","definition":"build: {}"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipeline(c)

		// assert
		assertHTTPError(t, err, http.StatusBadRequest)
	})
	t.Run("failure - empty name", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"CreatePipeline",
			context.Background(),
			"", "", testDefinition,
		).Return(nil, service.ValidationError{Message: "pipeline name must not be empty"})

		body, _ := json.Marshal(map[string]string{"name": " ", "definition": testDefinition})
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/pipelines", strings.NewReader(string(body)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipeline(c)

		// assert
		he := assertHTTPError(t, err, http.StatusBadRequest)
		assert.Equal(t, "pipeline name must not be empty", he.Message)
	})
}

func TestPipelinesHandler_GetPipeline(t *testing.T) {
	t.Run("success - pipeline found", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("GetPipelineByID", context.Background(), pipeline.PipelineID).
			Return(pipeline, nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodGet, fmt.Sprintf("/api/pipelines/%d", pipeline.PipelineID), nil,
		)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", pipeline.PipelineID))
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipeline(c)

		// assert
		assert.NoError(t, err)
		var got store.Pipeline
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, pipeline.PipelineID, got.PipelineID)
		assert.Equal(t, pipeline.Name, got.Name)
	})
	t.Run("failure - pipeline not found", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("GetPipelineByID", context.Background(), int64(7)).
			Return(nil, sql.ErrNoRows)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines/7", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("7")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipeline(c)

		// assert
		he := assertHTTPError(t, err, http.StatusNotFound)
		assert.Equal(t, "pipeline not found", he.Message)
	})
}

func TestPipelinesHandler_PutPipeline(t *testing.T) {
	t.Run("success - pipeline updated", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"UpdatePipeline",
			context.Background(),
			pipeline.PipelineID, pipeline.Name, pipeline.Description, pipeline.Definition,
		).Return(nil)

		body, _ := json.Marshal(map[string]string{
			"name":        pipeline.Name,
			"description": pipeline.Description,
			"definition":  pipeline.Definition,
		})
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPut,
			fmt.Sprintf("/api/pipelines/%d", pipeline.PipelineID),
			strings.NewReader(string(body)),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", pipeline.PipelineID))
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PutPipeline(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		mockPipelineService.AssertExpectations(t)
	})
	t.Run("failure - pipeline not found", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"UpdatePipeline",
			context.Background(),
			pipeline.PipelineID, pipeline.Name, pipeline.Description, pipeline.Definition,
		).Return(sql.ErrNoRows)

		body, _ := json.Marshal(map[string]string{
			"name":        pipeline.Name,
			"description": pipeline.Description,
			"definition":  pipeline.Definition,
		})
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPut,
			fmt.Sprintf("/api/pipelines/%d", pipeline.PipelineID),
			strings.NewReader(string(body)),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", pipeline.PipelineID))
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PutPipeline(c)

		// assert
		assertHTTPError(t, err, http.StatusNotFound)
	})
}

func TestPipelinesHandler_DeletePipeline(t *testing.T) {
	t.Run("success - pipeline deleted", func(t *testing.T) {
		// arrange
		pipeline := generatePipeline()
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("DeletePipeline", context.Background(), pipeline.PipelineID).
			Return(nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodDelete, fmt.Sprintf("/api/pipelines/%d", pipeline.PipelineID), nil,
		)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", pipeline.PipelineID))
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.DeletePipeline(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
	t.Run("failure - zero id", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)

		e := echo.New()
		req := httptest.NewRequest(http.MethodDelete, "/api/pipelines/0", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("0")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.DeletePipeline(c)

		// assert
		assertHTTPError(t, err, http.StatusBadRequest)
		mockPipelineService.AssertNotCalled(t, "DeletePipeline")
	})
}

func TestPipelinesHandler_PatchPipelineSchedule(t *testing.T) {
	t.Run("success - schedule set", func(t *testing.T) {
		// arrange
		schedule := "0 3 * * *"
		ref := "main"
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"UpdatePipelineSchedule",
			context.Background(), int64(3), &schedule, &ref,
		).Return(nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPatch, "/api/pipelines/3/schedule",
			strings.NewReader(`{"schedule":"0 3 * * *","ref":"main"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PatchPipelineSchedule(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		mockPipelineService.AssertExpectations(t)
	})
	t.Run("failure - invalid schedule", func(t *testing.T) {
		// arrange
		schedule := "every day"
		ref := "main"
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"UpdatePipelineSchedule",
			context.Background(), int64(3), &schedule, &ref,
		).Return(service.ValidationError{Message: `invalid schedule "every day"`})

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPatch, "/api/pipelines/3/schedule",
			strings.NewReader(`{"schedule":"every day","ref":"main"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PatchPipelineSchedule(c)

		// assert
		assertHTTPError(t, err, http.StatusBadRequest)
	})
}

func TestPipelinesHandler_PostPipelineRun(t *testing.T) {
	t.Run("success - branch run accepted", func(t *testing.T) {
		// arrange
		run := generateRun(3, types.RunQueued)
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"TriggerRun", context.Background(), int64(3), types.NewBranchTrigger("main"),
		).Return(run, nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines/3/runs", strings.NewReader(`{"ref":" main "}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipelineRun(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), run.RunID)
		mockPipelineService.AssertExpectations(t)
	})
	t.Run("success - tag run accepted", func(t *testing.T) {
		// arrange
		run := generateRun(3, types.RunQueued)
		run.IsTag = true
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"TriggerRun", context.Background(), int64(3), types.NewTagTrigger("v1.0.0"),
		).Return(run, nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines/3/runs",
			strings.NewReader(`{"ref":"v1.0.0","tag":true}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipelineRun(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		mockPipelineService.AssertExpectations(t)
	})
	t.Run("failure - run queue full", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On(
			"TriggerRun", context.Background(), int64(3), types.NewBranchTrigger("main"),
		).Return(nil, service.NewErrRunQueueFull())

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines/3/runs", strings.NewReader(`{"ref":"main"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.PostPipelineRun(c)

		// assert
		assertHTTPError(t, err, http.StatusServiceUnavailable)
	})
}

func TestPipelinesHandler_GetPipelineRuns(t *testing.T) {
	t.Run("success - runs paginated", func(t *testing.T) {
		// arrange
		runs := []store.Run{*generateRun(3, types.RunPassed), *generateRun(3, types.RunFailed)}
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("ListPipelineRuns", context.Background(), int64(3), int64(2)).
			Return(runs, int64(41), nil)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines/3/runs?page=2", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipelineRuns(c)

		// assert
		assert.NoError(t, err)
		var page runsPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Len(t, page.Runs, 2)
		assert.Equal(t, int64(2), page.Page)
		assert.Equal(t, int64(3), page.Pages)
		assert.Equal(t, int64(41), page.Total)
	})
	t.Run("success - missing page defaults to the first", func(t *testing.T) {
		// arrange
		mockPipelineService := new(testutil.MockPipelineService)
		mockPipelineService.On("ListPipelineRuns", context.Background(), int64(3), int64(1)).
			Return([]store.Run{}, int64(0), nil)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines/3/runs", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("3")
		h := NewPipelineHandler(mockPipelineService)

		// act
		err := h.GetPipelineRuns(c)

		// assert
		assert.NoError(t, err)
		assert.JSONEq(t, `{"runs":[],"page":1,"pages":0,"total":0}`, rec.Body.String())
	})
}

func assertHTTPError(t *testing.T, err error, status int) *echo.HTTPError {
	t.Helper()
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	assert.Equal(t, status, he.Code)
	return he
}

func generatePipeline() *store.Pipeline {
	return &store.Pipeline{
		PipelineID:  rand.Int63n(1000) + 1,
		Name:        fmt.Sprintf("pipeline-%d", rand.Intn(1000)),
		Description: "builds and tests",
		Definition:  testDefinition,
		CreatedOn:   time.Now().UTC(),
	}
}

func generateRun(pipelineID int64, status types.RunStatus) *store.Run {
	return &store.Run{
		RunID:         fmt.Sprintf("run-%d", rand.Intn(100000)),
		RunPipelineID: pipelineID,
		Ref:           "main",
		Status:        status,
		CreatedOn:     time.Now().UTC(),
		StartedOn:     util.AsPtr(time.Now().UTC()),
	}
}
