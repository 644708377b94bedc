// Package handler contains the HTTP endpoints.  Handlers bind and
// validate input, call repositories or services, and translate sentinel
// errors into status codes; none of the concurrency rules live here.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/service"
)

// reqCtx derives a bounded context for repository calls from the
// request context.
func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// currentUserID extracts the authenticated user id set by the JWT
// middleware.  The claim arrives as a JSON number (float64).
func currentUserID(c echo.Context) (uint64, bool) {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

// optionalUserID returns the authenticated user id as a nullable
// pointer for the guest-or-account endpoints.
func optionalUserID(c echo.Context) *uint64 {
	if id, ok := currentUserID(c); ok {
		return &id
	}
	return nil
}

// fail maps the domain's sentinel errors onto HTTP status codes.  The
// conflict family (full session, duplicate guest, lost slot race) all
// map to 409 so clients can uniformly re-query and retry.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrSlotNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrPackageNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrSlotUnavailable),
		errors.Is(err, repository.ErrSlotReferenced),
		errors.Is(err, repository.ErrSessionFull),
		errors.Is(err, repository.ErrSessionClosed),
		errors.Is(err, repository.ErrDuplicateGuest),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInsufficientCredit):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrPackageInactive):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
