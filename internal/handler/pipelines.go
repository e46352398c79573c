package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/labstack/echo/v4"
)

func SetupPipelineRoutes(g *echo.Group, pipelineService service.PipelineServicer) {
	h := NewPipelineHandler(pipelineService)
	pipelinesGroup := g.Group("/pipelines")
	pipelinesGroup.GET("", h.GetPipelines)
	pipelinesGroup.POST("", h.PostPipeline)
	pipelinesGroup.GET("/:pipeline_id", h.GetPipeline)
	pipelinesGroup.PUT("/:pipeline_id", h.PutPipeline)
	pipelinesGroup.DELETE("/:pipeline_id", h.DeletePipeline)
	pipelinesGroup.PATCH("/:pipeline_id/schedule", h.PatchPipelineSchedule)
	pipelinesGroup.POST("/:pipeline_id/runs", h.PostPipelineRun)
	pipelinesGroup.GET("/:pipeline_id/runs", h.GetPipelineRuns)
}

type PipelineHandler struct {
	pipelineService service.PipelineServicer
}

func NewPipelineHandler(pipelineService service.PipelineServicer) *PipelineHandler {
	return &PipelineHandler{pipelineService: pipelineService}
}

func (h *PipelineHandler) GetPipelines(c echo.Context) error {
	pipelines, err := h.pipelineService.ListPipelines(c.Request().Context())
	if err != nil {
		return newError(c, err,
			http.StatusInternalServerError, "something went wrong listing pipelines",
		)
	}
	if pipelines == nil {
		pipelines = []*store.Pipeline{}
	}
	return c.JSON(http.StatusOK, pipelines)
}

func (h *PipelineHandler) PostPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid pipeline data")
	}

	p, err := h.pipelineService.CreatePipeline(
		c.Request().Context(),
		strings.TrimSpace(pp.Name),
		strings.TrimSpace(pp.Description),
		pp.Definition,
	)
	if err != nil {
		return serviceError(c, err, "pipeline not found", "unable to create pipeline")
	}

	return c.JSON(http.StatusCreated, p)
}

func (h *PipelineHandler) GetPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid pipeline id")
	}

	p, err := h.pipelineService.GetPipelineByID(c.Request().Context(), pp.PipelineID)
	if err != nil {
		return serviceError(c, err, "pipeline not found", "unable to read pipeline")
	}

	return c.JSON(http.StatusOK, p)
}

func (h *PipelineHandler) PutPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid pipeline data")
	}

	if err := h.pipelineService.UpdatePipeline(
		c.Request().Context(),
		pp.PipelineID,
		strings.TrimSpace(pp.Name),
		strings.TrimSpace(pp.Description),
		pp.Definition,
	); err != nil {
		return serviceError(c, err,
			"pipeline not found", "something went wrong updating the pipeline",
		)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) DeletePipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid pipeline data")
	}

	if pp.PipelineID == 0 {
		return newError(c, errors.New("pipeline id was zero"),
			http.StatusBadRequest, "invalid pipeline id",
		)
	}

	if err := h.pipelineService.DeletePipeline(c.Request().Context(), pp.PipelineID); err != nil {
		return serviceError(c, err, "pipeline not found", "unable to delete pipeline")
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PatchPipelineSchedule(c echo.Context) error {
	sp := new(ScheduleParams)
	if err := c.Bind(sp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid schedule data")
	}

	if err := h.pipelineService.UpdatePipelineSchedule(
		c.Request().Context(), sp.PipelineID, sp.Schedule, sp.Ref,
	); err != nil {
		return serviceError(c, err,
			"pipeline not found", "unable to update pipeline schedule",
		)
	}

	return c.NoContent(http.StatusNoContent)
}

// PostPipelineRun triggers a run of the pipeline for the given ref. The run
// is accepted once it is queued; its jobs execute asynchronously.
func (h *PipelineHandler) PostPipelineRun(c echo.Context) error {
	tp := new(TriggerParams)
	if err := c.Bind(tp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run data")
	}

	trigger := types.NewBranchTrigger(strings.TrimSpace(tp.Ref))
	if tp.Tag {
		trigger = types.NewTagTrigger(strings.TrimSpace(tp.Ref))
	}
	trigger.TargetBranch = strings.TrimSpace(tp.TargetBranch)

	r, err := h.pipelineService.TriggerRun(c.Request().Context(), tp.PipelineID, trigger)
	if err != nil {
		return serviceError(c, err, "pipeline not found", "unable to create pipeline run")
	}

	return c.JSON(http.StatusAccepted, r)
}

type runsPage struct {
	Runs  []store.Run `json:"runs"`
	Page  int64       `json:"page"`
	Pages int64       `json:"pages"`
	Total int64       `json:"total"`
}

func (h *PipelineHandler) GetPipelineRuns(c echo.Context) error {
	lrp := new(ListRunsParams)
	if err := c.Bind(lrp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid request data")
	}
	page := max(lrp.Page, 1)

	runs, count, err := h.pipelineService.ListPipelineRuns(
		c.Request().Context(), lrp.PipelineID, page,
	)
	if err != nil {
		return serviceError(c, err, "pipeline not found", "error listing pipeline runs")
	}
	if runs == nil {
		runs = []store.Run{}
	}

	pages := (count + service.RunsPageSize - 1) / service.RunsPageSize
	return c.JSON(http.StatusOK, runsPage{
		Runs:  runs,
		Page:  page,
		Pages: pages,
		Total: count,
	})
}
