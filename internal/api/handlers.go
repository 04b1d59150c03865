// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the telemetry log, the symbol table and session
// control over HTTP
package api

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Thermoquad/heliograph/internal/config"
	"github.com/Thermoquad/heliograph/internal/session"
	"github.com/Thermoquad/heliograph/internal/symbols"
	"github.com/Thermoquad/heliograph/internal/telemetry"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// Session is the part of session.Manager the API drives
type Session interface {
	Start(selection []varlog.Selection) error
	Stop() error
	IsLogRunning() bool
	IsPortOpen() bool
	IsResolving() bool
	SessionID() string
	FrameTable() *varlog.FrameTable
	Log() *telemetry.Log
	Stats() *varlog.Statistics
	Symbols() *symbols.Holder
}

// ErrSelectionPath is returned for a selection file outside the selections directory
var ErrSelectionPath = errors.New("selection file must be a relative path inside the selections directory")

// Handler handles API requests
type Handler struct {
	session      Session
	logger       zerolog.Logger
	selectionDir string
}

// NewHandler creates a handler over a session. Selection files named in
// start requests are read from selectionDir; an empty selectionDir accepts
// inline variables only.
func NewHandler(s Session, logger zerolog.Logger, selectionDir string) *Handler {
	return &Handler{session: s, logger: logger, selectionDir: selectionDir}
}

// selectionPath maps a requested selection file into the selections directory
func (h *Handler) selectionPath(name string) (string, error) {
	if h.selectionDir == "" || !filepath.IsLocal(name) {
		return "", ErrSelectionPath
	}
	return filepath.Join(h.selectionDir, name), nil
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func errorJSON(c echo.Context, status int, msg string, errs ...error) error {
	resp := errorResponse{Error: msg}
	for _, err := range errs {
		resp.Details = append(resp.Details, err.Error())
	}
	return c.JSON(status, resp)
}

// HandleHealth returns server health status
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SessionStatus describes the session state
type SessionStatus struct {
	ID        string                `json:"id,omitempty"`
	PortOpen  bool                  `json:"port_open"`
	Running   bool                  `json:"running"`
	Resolving bool                  `json:"resolving"`
	Path      string                `json:"path,omitempty"`
	Rows      int                   `json:"rows"`
	Frames    map[int][]FrameMember `json:"frames,omitempty"`
}

// FrameMember is one variable of a configured frame
type FrameMember struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

func (h *Handler) status() SessionStatus {
	st := SessionStatus{
		ID:        h.session.SessionID(),
		PortOpen:  h.session.IsPortOpen(),
		Running:   h.session.IsLogRunning(),
		Resolving: h.session.IsResolving(),
		Path:      h.session.Log().Path(),
		Rows:      h.session.Log().Rows(),
	}
	if table := h.session.FrameTable(); table != nil {
		st.Frames = map[int][]FrameMember{}
		for id := 0; id < varlog.NumFrames; id++ {
			frame := table.Frame(id)
			if frame == nil {
				continue
			}
			// Latest is written by the I/O goroutine; read only the layout
			for i := range frame.Variables {
				v := &frame.Variables[i]
				st.Frames[id] = append(st.Frames[id], FrameMember{Name: v.Name, Type: v.Type.String(), Size: v.Size})
			}
		}
	}
	return st
}

// HandleSession returns the session status
func (h *Handler) HandleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status())
}

// startRequest selects variables inline or by a YAML file in the
// selections directory
type startRequest struct {
	Path      string                  `json:"path"`
	Variables []config.VariableChoice `json:"variables"`
}

// HandleStartSession resolves the selection against the symbol table and
// starts logging. Unresolved or rejected variables are reported in details.
func (h *Handler) HandleStartSession(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid JSON body")
	}

	sf := &config.SelectionFile{Variables: req.Variables}
	if req.Path != "" {
		path, err := h.selectionPath(req.Path)
		if err != nil {
			return errorJSON(c, http.StatusForbidden, err.Error())
		}
		loaded, err := config.LoadSelection(path)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "failed to load selection", err)
		}
		sf = loaded
	}
	if len(sf.Variables) == 0 {
		return errorJSON(c, http.StatusBadRequest, "no variables selected")
	}

	table := h.session.Symbols().Load()
	if table == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "symbols have not been resolved")
	}

	selection, errs := sf.Resolve(table)
	for _, err := range errs {
		h.logger.Warn().Err(err).Msg("selection entry skipped")
	}

	if err := h.session.Start(selection); err != nil {
		switch {
		case errors.Is(err, session.ErrPortClosed):
			return errorJSON(c, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrSessionEnded):
			return errorJSON(c, http.StatusConflict, err.Error())
		case errors.Is(err, session.ErrNoVariables):
			return errorJSON(c, http.StatusBadRequest, err.Error(), errs...)
		default:
			return errorJSON(c, http.StatusInternalServerError, "failed to start session", err)
		}
	}

	resp := struct {
		SessionStatus
		Skipped []string `json:"skipped,omitempty"`
	}{SessionStatus: h.status()}
	for _, err := range errs {
		resp.Skipped = append(resp.Skipped, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleStopSession stops logging and writes the session CSV
func (h *Handler) HandleStopSession(c echo.Context) error {
	if !h.session.IsLogRunning() {
		return errorJSON(c, http.StatusConflict, "no logging session is running")
	}
	if err := h.session.Stop(); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "session stopped with errors", err)
	}
	return c.JSON(http.StatusOK, h.status())
}

// HandleSymbols returns the current symbol table
func (h *Handler) HandleSymbols(c echo.Context) error {
	table := h.session.Symbols().Load()
	if table == nil {
		return errorJSON(c, http.StatusNotFound, "symbols have not been resolved")
	}
	return c.JSON(http.StatusOK, table)
}

// HandleLog returns a copy of the telemetry log
func (h *Handler) HandleLog(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Log().Snapshot())
}

// HandleLogSignals returns the signal names
func (h *Handler) HandleLogSignals(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Log().SignalNames())
}

// HandleLogMsgpack returns a copy of the telemetry log as msgpack
func (h *Handler) HandleLogMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(h.session.Log().Snapshot())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to encode msgpack")
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleStats returns the stream statistics
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Stats().Snapshot())
}
