package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/labstack/echo/v4"
)

type ArtifactLinker interface {
	NewToken(runID string, artifactID int64) (string, error)
	ParseToken(token string) (string, int64, error)
}

func SetupRunRoutes(
	g *echo.Group,
	pipelineService service.PipelineServicer,
	events *service.SSEClientMap[service.RunEvent],
	links ArtifactLinker,
	baseURL string,
) {
	h := NewRunHandler(pipelineService, events, links, baseURL)
	runsGroup := g.Group("/runs")
	runsGroup.GET("/:run_id", h.GetRun)
	runsGroup.POST("/:run_id/cancel", h.PostCancelRun)
	runsGroup.GET("/:run_id/events", h.GetRunEvents)
	runsGroup.GET("/:run_id/jobs/:job_name/log", h.GetJobLog)
	runsGroup.GET("/:run_id/artifacts", h.GetRunArtifacts)
	runsGroup.GET("/:run_id/artifacts.zip", h.GetRunArtifactsArchive)
}

// SetupArtifactDownloadRoutes serves signed artifact links. The token
// authorizes the download, so these routes sit outside the API key group.
func SetupArtifactDownloadRoutes(e *echo.Echo, h *RunHandler) {
	e.GET("/artifacts/:token", h.GetArtifactDownload)
}

type RunHandler struct {
	pipelineService service.PipelineServicer
	events          *service.SSEClientMap[service.RunEvent]
	links           ArtifactLinker
	baseURL         string
}

func NewRunHandler(
	pipelineService service.PipelineServicer,
	events *service.SSEClientMap[service.RunEvent],
	links ArtifactLinker,
	baseURL string,
) *RunHandler {
	return &RunHandler{
		pipelineService: pipelineService,
		events:          events,
		links:           links,
		baseURL:         baseURL,
	}
}

type jobResultResponse struct {
	store.JobResult
	Warnings []string `json:"warnings"`
}

type runResponse struct {
	*store.Run
	Jobs []jobResultResponse `json:"jobs"`
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id")
	}

	r, results, err := h.pipelineService.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(c, err, "run not found", "unable to read run")
	}

	res := runResponse{Run: r, Jobs: make([]jobResultResponse, 0, len(results))}
	for _, jr := range results {
		res.Jobs = append(res.Jobs, jobResultResponse{JobResult: jr, Warnings: jr.WarningList()})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id")
	}

	if err := h.pipelineService.CancelRun(c.Request().Context(), rp.RunID); err != nil {
		return serviceError(c, err, "run not found", "unable to cancel run")
	}

	return c.NoContent(http.StatusAccepted)
}

func (h *RunHandler) GetJobLog(c echo.Context) error {
	lp := new(JobLogParams)
	if err := c.Bind(lp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id or job name")
	}

	rc, err := h.pipelineService.OpenJobLog(c.Request().Context(), lp.RunID, lp.JobName)
	if err != nil {
		return serviceError(c, err, "job log not found", "unable to open job log")
	}
	defer rc.Close()

	return c.Stream(http.StatusOK, echo.MIMETextPlainCharsetUTF8, rc)
}

// GetRunEvents streams status changes and job results of a run as server
// sent events. The stream ends once the run reaches a terminal status.
func (h *RunHandler) GetRunEvents(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id")
	}

	r, _, err := h.pipelineService.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(c, err, "run not found", "unable to read run")
	}

	id := uuid.NewString()
	ch := h.events.AddClient(id)
	defer h.events.RemoveClient(id)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeRunEvent(w, service.RunEvent{RunID: r.RunID, Status: r.Status}); err != nil {
		return nil
	}
	if runFinished(r.Status) {
		return nil
	}

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.RunID != rp.RunID {
				continue
			}
			if err := writeRunEvent(w, ev); err != nil {
				return nil
			}
			if ev.Job == nil && runFinished(ev.Status) {
				return nil
			}
		}
	}
}

func runFinished(status types.RunStatus) bool {
	return status != types.RunQueued && status != types.RunRunning
}

type artifactResponse struct {
	store.Artifact
	URL string `json:"url"`
}

func (h *RunHandler) GetRunArtifacts(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id")
	}

	artifacts, err := h.pipelineService.ListRunArtifacts(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(c, err, "run not found", "unable to list artifacts")
	}

	res := make([]artifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		token, err := h.links.NewToken(a.ArtifactRunID, a.ArtifactID)
		if err != nil {
			return newError(c, err,
				http.StatusInternalServerError, "unable to sign artifact link",
			)
		}
		res = append(res, artifactResponse{
			Artifact: a,
			URL:      fmt.Sprintf("%s/artifacts/%s", h.baseURL, token),
		})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RunHandler) GetRunArtifactsArchive(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid run id")
	}

	archive, err := h.pipelineService.ArchiveRunArtifacts(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(c, err, "run has no artifacts", "unable to archive artifacts")
	}

	return c.Attachment(archive, rp.RunID+".zip")
}

func (h *RunHandler) GetArtifactDownload(c echo.Context) error {
	tp := new(ArtifactTokenParams)
	if err := c.Bind(tp); err != nil {
		return newError(c, err, http.StatusBadRequest, "invalid artifact link")
	}

	runID, artifactID, err := h.links.ParseToken(tp.Token)
	if err != nil {
		return newError(c, err, http.StatusForbidden, "invalid or expired artifact link")
	}

	a, err := h.pipelineService.GetArtifactByID(c.Request().Context(), artifactID)
	if err != nil {
		return serviceError(c, err, "artifact not found", "unable to read artifact")
	}
	if a.ArtifactRunID != runID {
		return newError(c, errors.New("artifact run id does not match link"),
			http.StatusForbidden, "invalid or expired artifact link",
		)
	}

	return c.Attachment(a.Path, filepath.Base(a.Path))
}
