// Package server exposes reconstructions over HTTP for the presentation layer.
package server

import (
	"github.com/iksnae/synthshot/internal"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New creates the echo server with all routes registered
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(internal.MetricsRegistry, promhttp.HandlerOpts{})))
	h.RegisterRoutes(e)

	return e
}
