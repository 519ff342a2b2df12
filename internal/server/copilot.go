package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/glance/internal/copilot"
	"github.com/mohammad-safakhou/glance/internal/store"
	"github.com/mohammad-safakhou/glance/internal/tasklist"
)

// copilotService is the handler's view of the pipeline; tests stub it.
type copilotService interface {
	Chat(ctx context.Context, sessionID, message string, ov copilot.Overrides) (copilot.Result, error)
	RunTasks(ctx context.Context, sessionID, message string, ov copilot.Overrides, doc tasklist.Document) (copilot.Result, tasklist.Document, error)
}

type CopilotHandler struct {
	Copilot copilotService
}

func (h *CopilotHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.POST("/tasks", h.tasks)
}

type chatRequest struct {
	SessionID string            `json:"session_id"`
	Message   string            `json:"message"`
	Overrides copilot.Overrides `json:"overrides"`
}

func (h *CopilotHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	res, err := h.Copilot.Chat(c.Request().Context(), req.SessionID, req.Message, req.Overrides)
	if err != nil {
		return copilotHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type tasksRequest struct {
	SessionID string            `json:"session_id"`
	Message   string            `json:"message"`
	Overrides copilot.Overrides `json:"overrides"`
	Tasks     json.RawMessage   `json:"task_list"`
}

type tasksResponse struct {
	Result copilot.Result    `json:"result"`
	Tasks  tasklist.Document `json:"task_list"`
}

func (h *CopilotHandler) tasks(c echo.Context) error {
	var req tasksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	if len(req.Tasks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "task_list required")
	}
	parsed, err := tasklist.ParseDocument(req.Tasks)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, doc, err := h.Copilot.RunTasks(c.Request().Context(), req.SessionID, req.Message, req.Overrides, parsed)
	if err != nil {
		// Failed task lists still return statuses so the host can inspect them.
		return echo.NewHTTPError(statusFor(err), map[string]interface{}{
			"error":     err.Error(),
			"task_list": doc,
		})
	}
	return c.JSON(http.StatusOK, tasksResponse{Result: res, Tasks: doc})
}

func copilotHTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(statusFor(err), err.Error())
}

// statusFor maps pipeline error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, copilot.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, copilot.ErrExtractionAbsent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, copilot.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, copilot.ErrUpstreamFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RunsHandler exposes the run journal.
type RunsHandler struct {
	Store *store.Store
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("/runs/:id", h.get)
	g.GET("/sessions/:id/runs", h.list)
}

func (h *RunsHandler) get(c echo.Context) error {
	run, found, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) list(c echo.Context) error {
	runs, err := h.Store.ListRunsBySession(c.Request().Context(), c.Param("id"), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}
