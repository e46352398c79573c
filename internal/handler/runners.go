package handler

import (
	"net/http"
	"strings"

	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/labstack/echo/v4"
)

func SetupRunnerRoutes(g *echo.Group, runnerService service.RunnerServicer) {
	h := NewRunnerHandler(runnerService)
	runnersGroup := g.Group("/runners")
	runnersGroup.GET("", h.GetRunners)
	runnersGroup.POST("", h.PostRunner)
	runnersGroup.GET("/:runner_id", h.GetRunner)
	runnersGroup.DELETE("/:runner_id", h.DeleteRunner)
	runnersGroup.POST("/:runner_id/test", h.PostTestRunnerConnection)
}

type RunnerHandler struct {
	runnerService service.RunnerServicer
}

func NewRunnerHandler(runnerService service.RunnerServicer) *RunnerHandler {
	return &RunnerHandler{runnerService: runnerService}
}

type runnerResponse struct {
	*store.Runner
	Tags []string `json:"tags"`
}

func newRunnerResponse(r *store.Runner) runnerResponse {
	return runnerResponse{Runner: r, Tags: r.TagList()}
}

func (h *RunnerHandler) GetRunners(c echo.Context) error {
	runners, err := h.runnerService.ListRunners(c.Request().Context())
	if err != nil {
		return newError(c, err,
			http.StatusInternalServerError, "something went wrong listing runners",
		)
	}

	res := make([]runnerResponse, 0, len(runners))
	for _, r := range runners {
		res = append(res, newRunnerResponse(r))
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RunnerHandler) PostRunner(c echo.Context) error {
	rp := new(RunnerParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid runner data")
	}

	r, err := h.runnerService.CreateRunner(
		c.Request().Context(),
		strings.TrimSpace(rp.Name),
		rp.Tags,
		strings.TrimSpace(rp.Hostname),
		strings.TrimSpace(rp.Username),
		strings.TrimSpace(rp.Workspace),
		rp.SSHPrivateKey,
	)
	if err != nil {
		return serviceError(c, err, "runner not found", "unable to create runner")
	}

	return c.JSON(http.StatusCreated, newRunnerResponse(r))
}

func (h *RunnerHandler) GetRunner(c echo.Context) error {
	rp := new(RunnerParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid runner id")
	}

	r, err := h.runnerService.GetRunnerByID(c.Request().Context(), rp.RunnerID)
	if err != nil {
		return serviceError(c, err, "runner not found", "unable to read runner")
	}

	return c.JSON(http.StatusOK, newRunnerResponse(r))
}

func (h *RunnerHandler) DeleteRunner(c echo.Context) error {
	rp := new(RunnerParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid runner id")
	}

	if err := h.runnerService.DeleteRunner(c.Request().Context(), rp.RunnerID); err != nil {
		return serviceError(c, err, "runner not found", "unable to delete runner")
	}

	return c.NoContent(http.StatusNoContent)
}

// PostTestRunnerConnection dials the runner over SSH and reports whether it
// accepted the stored key.
func (h *RunnerHandler) PostTestRunnerConnection(c echo.Context) error {
	rp := new(RunnerParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid runner id")
	}

	if err := h.runnerService.TestRunnerConnection(c.Request().Context(), rp.RunnerID); err != nil {
		return serviceError(c, err, "runner not found", "connection to runner failed")
	}

	return c.NoContent(http.StatusNoContent)
}
