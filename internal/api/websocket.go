// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// DefaultStreamInterval is how often the live stream pushes the latest row
const DefaultStreamInterval = 250 * time.Millisecond

// LiveRow is one websocket message of the live log stream
type LiveRow struct {
	Session string             `json:"session,omitempty"`
	Running bool               `json:"running"`
	Time    float64            `json:"time"` // microseconds
	Rows    int                `json:"rows"`
	Values  map[string]float64 `json:"values,omitempty"`
}

// LiveStream pushes the latest log row to websocket clients
type LiveStream struct {
	handler  *Handler
	upgrader websocket.Upgrader
	interval time.Duration
}

// NewLiveStream creates a live stream over a handler's session
func NewLiveStream(h *Handler, interval time.Duration) *LiveStream {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &LiveStream{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		interval: interval,
	}
}

// HandleWebSocket upgrades the connection and streams rows until the
// client goes away
func (ls *LiveStream) HandleWebSocket(c echo.Context) error {
	ws, err := ls.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logger := ls.handler.logger.With().Str("remote", c.RealIP()).Logger()
	logger.Debug().Msg("live stream client connected")

	// Drain client frames so close messages are seen
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("live stream read failed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logger.Debug().Msg("live stream client disconnected")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
			if err := ws.WriteJSON(ls.row()); err != nil {
				logger.Debug().Err(err).Msg("live stream write failed")
				return nil
			}
		}
	}
}

func (ls *LiveStream) row() LiveRow {
	s := ls.handler.session
	log := s.Log()
	row := LiveRow{
		Session: s.SessionID(),
		Running: s.IsLogRunning(),
		Rows:    log.Rows(),
	}
	if t, values, ok := log.Latest(); ok {
		row.Time = t
		row.Values = values
	}
	return row
}
