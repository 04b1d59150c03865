// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Config configures the API server
type Config struct {
	StreamInterval time.Duration // live row push interval, default DefaultStreamInterval
	SelectionDir   string        // directory of selection files, empty disables them
}

// NewServer builds the echo instance with every route registered
func NewServer(s Session, logger zerolog.Logger, cfg Config) *echo.Echo {
	h := NewHandler(s, logger, cfg.SelectionDir)
	live := NewLiveStream(h, cfg.StreamInterval)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/api/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Debug()
			if v.Error != nil {
				ev = logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	g := e.Group("/api")
	g.GET("/health", h.HandleHealth)

	g.GET("/session", h.HandleSession)
	g.POST("/session/start", h.HandleStartSession)
	g.POST("/session/stop", h.HandleStopSession)

	g.GET("/symbols", h.HandleSymbols)

	g.GET("/log", h.HandleLog)
	g.GET("/log/signals", h.HandleLogSignals)
	g.GET("/log/msgpack", h.HandleLogMsgpack)

	g.GET("/stats", h.HandleStats)
	g.GET("/ws/log", live.HandleWebSocket)

	return e
}
