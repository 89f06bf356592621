package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/service"
)

// HealthHandler reports liveness plus the storage mode.
type HealthHandler struct {
	Users    *service.UserStore
	Registry *service.Registry
}

func NewHealthHandler(users *service.UserStore, registry *service.Registry) *HealthHandler {
	return &HealthHandler{Users: users, Registry: registry}
}

// Health handles GET /healthz.  It never fails: a missing durable backend
// is a degraded mode, not an outage.
func (h *HealthHandler) Health(c echo.Context) error {
	mode := "memory"
	if h.Users.Durable() {
		mode = "durable"
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":           "ok",
		"storage":          mode,
		"registered_paths": h.Registry.Len(),
	})
}
