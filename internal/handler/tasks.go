package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/service"
)

// TaskHandler exposes the extraction pipeline.
type TaskHandler struct {
	Runner *service.TaskRunner
	Log    *logging.Logger
}

func NewTaskHandler(runner *service.TaskRunner, logger *logging.Logger) *TaskHandler {
	if runner == nil {
		panic("nil task runner passed to NewTaskHandler")
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &TaskHandler{Runner: runner, Log: logger}
}

// Create handles POST /v1/tasks.  The body names either an archive_path
// already inside the temp dir or a url to download, an optional password
// and an optional member.  It returns 201 with the task result.
func (h *TaskHandler) Create(c echo.Context) error {
	var req service.TaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, ok, err := actingFor(c, req.UserID)
	if !ok {
		return err
	}
	req.UserID = id

	res, err := h.Runner.Run(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, res)
}
