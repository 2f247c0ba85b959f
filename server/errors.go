package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	contractx "github.com/careloop/careloop/agent/contract"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps domain errors onto the HTTP taxonomy: invalid input is the
// caller's fault, a dual upstream failure is a bad gateway carrying both
// causes, everything else is an internal error with the detail withheld.
func writeError(c echo.Context, err error) error {
	var upstream *gatewayx.UpstreamError

	switch {
	case errors.Is(err, contractx.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorBody{Detail: err.Error()})
	case errors.Is(err, contractx.ErrPatientNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Detail: err.Error()})
	case errors.As(err, &upstream):
		return c.JSON(http.StatusBadGateway, errorBody{Detail: upstream.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorBody{Detail: "internal error"})
	}
}
