package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parkqr/internal/service"
)

// statusFor maps an engine error kind to an HTTP status code.
func statusFor(kind service.Kind) int {
    switch kind {
    case service.KindValidation:
        return http.StatusBadRequest
    case service.KindConflict, service.KindInvalidState:
        return http.StatusConflict
    case service.KindNotFound:
        return http.StatusNotFound
    case service.KindUnavailable:
        return http.StatusServiceUnavailable
    default:
        return http.StatusInternalServerError
    }
}

// errorBody is the JSON shape of every error response.
func errorBody(err error) echo.Map {
    var se *service.Error
    if errors.As(err, &se) {
        return echo.Map{"error": se.Error(), "code": string(se.Kind)}
    }
    return echo.Map{"error": "internal error", "code": string(service.KindInternal)}
}

// writeError responds with the status and body for err.
func writeError(c echo.Context, err error) error {
    return c.JSON(statusFor(service.KindOf(err)), errorBody(err))
}
