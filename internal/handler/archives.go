package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/service"
)

// ArchiveHandler inspects archives that are already in the temp dir.
type ArchiveHandler struct {
	Engine  *archive.Engine
	TempDir string
	Log     *logging.Logger
}

func NewArchiveHandler(engine *archive.Engine, tempDir string, logger *logging.Logger) *ArchiveHandler {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &ArchiveHandler{Engine: engine, TempDir: tempDir, Log: logger}
}

// Inspect handles POST /v1/archives/inspect with {"archive_path": ...}.
// It reports kind, encryption and the member list without extracting.
func (h *ArchiveHandler) Inspect(c echo.Context) error {
	var body struct {
		ArchivePath string `json:"archive_path"`
	}
	if err := c.Bind(&body); err != nil || body.ArchivePath == "" {
		return badRequest(c, "archive_path is required")
	}
	path, err := service.ResolveArchivePath(h.TempDir, body.ArchivePath)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if exists, _ := afero.Exists(h.Engine.Fs(), path); !exists {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "archive not found"})
	}
	in, err := h.Engine.Inspect(c.Request().Context(), path)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, in)
}
