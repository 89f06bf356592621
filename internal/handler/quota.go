package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/service"
)

// QuotaHandler answers admission questions without starting a task.
type QuotaHandler struct {
	Quota *service.QuotaService
	Log   *logging.Logger
}

func NewQuotaHandler(q *service.QuotaService, logger *logging.Logger) *QuotaHandler {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &QuotaHandler{Quota: q, Log: logger}
}

// Check handles POST /v1/quota/check with {"user_id", "size_mb"}.  A
// denial is still a 200: the decision itself is the answer.
func (h *QuotaHandler) Check(c echo.Context) error {
	var body struct {
		UserID int64   `json:"user_id"`
		SizeMB float64 `json:"size_mb"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, ok, err := actingFor(c, body.UserID)
	if !ok {
		return err
	}
	d, err := h.Quota.Check(c.Request().Context(), id, body.SizeMB)
	var denied *service.QuotaDeniedError
	if err != nil && !errors.As(err, &denied) {
		return respondError(c, h.Log, err)
	}
	resp := echo.Map{"user_id": id, "allowed": d.Allowed}
	if !d.Allowed {
		resp["reason"] = d.Reason
		resp["message"] = d.Message
		if secs := d.RetryAfterSeconds(); secs > 0 {
			resp["retry_after"] = secs
		}
	}
	return c.JSON(http.StatusOK, resp)
}
