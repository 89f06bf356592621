package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/fetch"
	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/service"
)

// respondError maps domain errors onto status codes and a JSON body of
// the form {"error": code, "message": text}.  Unmapped errors are logged
// and answered with a bare 500.
func respondError(c echo.Context, log *logging.Logger, err error) error {
	var (
		denied *service.QuotaDeniedError
		ee     *archive.ExtractionError
	)
	switch {
	case errors.As(err, &denied):
		return respondDenied(c, denied.Decision)
	case errors.Is(err, service.ErrInvalidTask),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, service.ErrInvalidSize),
		errors.Is(err, service.ErrInvalidTTL),
		errors.Is(err, service.ErrInvalidPath):
		return fail(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, archive.ErrPasswordRequired):
		return fail(c, http.StatusUnprocessableEntity, "password_required", err)
	case errors.Is(err, archive.ErrUnsupportedFormat):
		return fail(c, http.StatusUnsupportedMediaType, "unsupported_format", err)
	case errors.Is(err, archive.ErrMemberNotFound):
		return fail(c, http.StatusNotFound, "member_not_found", err)
	case errors.Is(err, fetch.ErrUpstream):
		return fail(c, http.StatusBadGateway, "download_failed", err)
	case errors.As(err, &ee):
		switch ee.Reason {
		case archive.ReasonWrongPassword:
			return fail(c, http.StatusUnprocessableEntity, "wrong_password", err)
		case archive.ReasonCorrupt:
			return fail(c, http.StatusUnprocessableEntity, "corrupt_archive", err)
		case archive.ReasonCancelled:
			return fail(c, http.StatusGatewayTimeout, "cancelled", err)
		}
		return fail(c, http.StatusInternalServerError, "io_error", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fail(c, http.StatusGatewayTimeout, "timeout", err)
	}
	req := c.Request()
	log.Error("request failed", "method", req.Method, "path", req.URL.Path, "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
}

func fail(c echo.Context, status int, code string, err error) error {
	return c.JSON(status, echo.Map{"error": code, "message": err.Error()})
}

// respondDenied writes a quota denial.  Banned is 403, an oversized
// archive 413 and every other rule 429 with Retry-After when known.
func respondDenied(c echo.Context, d service.Decision) error {
	status := http.StatusTooManyRequests
	switch d.Reason {
	case service.DenyBanned:
		status = http.StatusForbidden
	case service.DenyArchiveTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	body := echo.Map{"error": string(d.Reason), "message": d.Message}
	if secs := d.RetryAfterSeconds(); secs > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}
