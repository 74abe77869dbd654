package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/labstack/echo/v4"
)

// Reconstructing rebuilds the screenshots of a monitor's latest run
type Reconstructing interface {
	ReconstructRun(ctx context.Context, monitorID string) (*internal.Reconstruction, error)
}

// MonitorLister lists the monitors known to the API
type MonitorLister interface {
	ListMonitors(ctx context.Context) ([]kibana.Monitor, error)
}

// StatusChecker reports the status of the monitoring API
type StatusChecker interface {
	Status(ctx context.Context) (*kibana.Status, error)
}

// Handler handles HTTP requests.
type Handler struct {
	reconstructor Reconstructing
	monitors      MonitorLister
	status        StatusChecker
	history       *internal.HistoryStore
}

// NewHandler creates a new handler. history may be nil.
func NewHandler(r Reconstructing, monitors MonitorLister, status StatusChecker, history *internal.HistoryStore) *Handler {
	return &Handler{
		reconstructor: r,
		monitors:      monitors,
		status:        status,
		history:       history,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	e.GET("/v1/monitors", h.ListMonitors)
	e.GET("/v1/monitors/:monitor_id/screenshots", h.GetScreenshots)
	e.GET("/v1/monitors/:monitor_id/screenshots/:step", h.GetScreenshot)
	e.GET("/v1/history", h.ListHistory)
}

// Health returns health status, including the monitoring API when reachable.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{"status": "healthy"}
	if h.status == nil {
		return c.JSON(http.StatusOK, resp)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	st, err := h.status.Status(ctx)
	if err != nil {
		resp["status"] = "degraded"
		resp["kibana"] = map[string]string{"error": err.Error()}
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	resp["kibana"] = map[string]string{"name": st.Name, "version": st.Version, "level": st.Level}
	return c.JSON(http.StatusOK, resp)
}

// ListMonitors lists monitors with their latest status.
// GET /v1/monitors
func (h *Handler) ListMonitors(c echo.Context) error {
	monitors, err := h.monitors.ListMonitors(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	if monitors == nil {
		monitors = []kibana.Monitor{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"monitors": monitors})
}

// StepResponse is one step of a reconstruction response
type StepResponse struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// ScreenshotsResponse is a reconstruction with base64 encoded images
type ScreenshotsResponse struct {
	ReconstructionID string         `json:"reconstruction_id"`
	MonitorID        string         `json:"monitor_id"`
	GroupingKey      string         `json:"grouping_key"`
	StartedAt        time.Time      `json:"started_at"`
	DurationSeconds  int64          `json:"duration_seconds"`
	Steps            []StepResponse `json:"steps"`
}

// GetScreenshots reconstructs the monitor's latest run.
// GET /v1/monitors/:monitor_id/screenshots
func (h *Handler) GetScreenshots(c echo.Context) error {
	rec, ok, err := h.reconstruct(c, true)
	if !ok {
		return err
	}

	resp := ScreenshotsResponse{
		ReconstructionID: rec.ID,
		MonitorID:        rec.MonitorID,
		GroupingKey:      rec.Run.GroupingKey,
		StartedAt:        rec.Run.StartedAt,
		DurationSeconds:  rec.Run.DurationSeconds(),
		Steps:            make([]StepResponse, 0, len(rec.Steps)),
	}
	for _, s := range rec.Steps {
		step := StepResponse{Index: s.StepIndex}
		if s.OK() {
			step.Status = "ok"
			step.Format = s.Image.Format
			step.Width = s.Image.Width
			step.Height = s.Image.Height
			step.Data = s.Image.Data
		} else {
			step.Status = internal.FailureKind(s.Err)
			step.Error = s.Err.Error()
		}
		resp.Steps = append(resp.Steps, step)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetScreenshot returns the raw image of one step of the latest run. The whole
// run is reconstructed to serve it and no history row is written.
// GET /v1/monitors/:monitor_id/screenshots/:step
func (h *Handler) GetScreenshot(c echo.Context) error {
	stepIndex, err := strconv.Atoi(c.Param("step"))
	if err != nil || stepIndex < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "step must be a positive integer"})
	}

	rec, ok, err := h.reconstruct(c, false)
	if !ok {
		return err
	}

	for _, s := range rec.Steps {
		if s.StepIndex != stepIndex {
			continue
		}
		if !s.OK() {
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error":  s.Err.Error(),
				"status": internal.FailureKind(s.Err),
			})
		}
		return c.Blob(http.StatusOK, contentType(s.Image.Format), s.Image.Data)
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "step has no tile-referenced screenshot"})
}

// reconstruct runs the engine for the :monitor_id param and records the result
// when record is set. When ok is false the error response has already been
// written and err is the write error.
func (h *Handler) reconstruct(c echo.Context, record bool) (rec *internal.Reconstruction, ok bool, err error) {
	ctx := c.Request().Context()
	monitorID := c.Param("monitor_id")
	if !validMonitorID(monitorID) {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid monitor id"})
	}

	rec, err = h.reconstructor.ReconstructRun(ctx, monitorID)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		return nil, false, c.JSON(http.StatusNotFound, map[string]string{"error": "No image data"})
	case err != nil:
		return nil, false, c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	if record && h.history != nil {
		if err := h.history.Record(ctx, rec, nil); err != nil {
			internal.LogWarn("Failed to record history for %s: %v", monitorID, err)
		}
	}
	return rec, true, nil
}

// ListHistory lists recorded reconstructions.
// GET /v1/history?monitor_id=&limit=
func (h *Handler) ListHistory(c echo.Context) error {
	if h.history == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history is disabled"})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	entries, err := h.history.List(c.Request().Context(), c.QueryParam("monitor_id"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if entries == nil {
		entries = []internal.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": entries})
}

func validMonitorID(id string) bool {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func contentType(format string) string {
	if format == internal.FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}
