// Package server exposes the two agents over HTTP. Both binaries share the
// same echo setup and error mapping; only the registered routes differ.
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

const correlationHeader = "X-Correlation-ID"

// New builds an echo instance with the shared middleware chain and a health
// endpoint reporting the given service name.
func New(service string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", correlationHeader},
	}))
	e.Use(correlationMiddleware())
	e.Use(requestLogger())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	})

	return e
}

// correlationMiddleware propagates the caller's correlation id, minting one
// when the request arrives without it.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(correlationHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set("correlation_id", id)
			c.Response().Header().Set(correlationHeader, id)
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			event := log.Info()
			if c.Response().Status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Str("correlation_id", correlationID(c)).
				Msg("request handled")
			return nil
		}
	}
}

func correlationID(c echo.Context) string {
	if id, ok := c.Get("correlation_id").(string); ok {
		return id
	}
	return ""
}
