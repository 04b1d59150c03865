// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Thermoquad/heliograph/internal/session"
	"github.com/Thermoquad/heliograph/internal/symbols"
	"github.com/Thermoquad/heliograph/internal/telemetry"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// fakeSession records Start/Stop calls and serves a real log
type fakeSession struct {
	log      *telemetry.Log
	stats    *varlog.Statistics
	holder   *symbols.Holder
	table    *varlog.FrameTable
	portOpen bool
	started  []varlog.Selection
	startErr error
	stopped  int
}

func newFakeSession() *fakeSession {
	holder := &symbols.Holder{}
	table := symbols.NewTable()
	table.Add("motor.c", "rpm", varlog.VariableDescriptor{Address: 0x20000000, Size: 4, Type: varlog.ScalarFloat32})
	table.Add("motor.c", "state", varlog.VariableDescriptor{Address: 0x20000004, Size: 1, Type: varlog.ScalarUint8})
	holder.Store(table)

	return &fakeSession{
		log:      telemetry.NewLog(),
		stats:    varlog.NewStatistics(),
		holder:   holder,
		portOpen: true,
	}
}

func (f *fakeSession) Start(sel []varlog.Selection) error {
	if f.startErr != nil {
		return f.startErr
	}
	if len(sel) == 0 {
		return session.ErrNoVariables
	}
	setup, _ := varlog.BuildSetup(sel)
	f.table = setup.Table
	f.started = sel
	f.log.Begin(setup.Table.Names(), filepath.Join(os.TempDir(), "unused.csv"))
	return nil
}

func (f *fakeSession) Stop() error {
	f.stopped++
	f.log.End()
	return nil
}

func (f *fakeSession) IsLogRunning() bool { return f.log.Running() }
func (f *fakeSession) IsPortOpen() bool { return f.portOpen }
func (f *fakeSession) IsResolving() bool { return false }
func (f *fakeSession) SessionID() string { return "session-1" }
func (f *fakeSession) FrameTable() *varlog.FrameTable { return f.table }
func (f *fakeSession) Log() *telemetry.Log { return f.log }
func (f *fakeSession) Stats() *varlog.Statistics { return f.stats }
func (f *fakeSession) Symbols() *symbols.Holder { return f.holder }

var _ Session = (*session.Manager)(nil)

func sample(ts uint64, values map[string]float64) *varlog.Sample {
	s := &varlog.Sample{Timestamp: ts}
	for name, v := range values {
		s.Values = append(s.Values, varlog.Value{Name: name, Value: v})
	}
	return s
}

func do(t *testing.T, f *fakeSession, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doWith(t, f, Config{StreamInterval: 10 * time.Millisecond}, method, path, body)
}

func doWith(t *testing.T, f *fakeSession, cfg Config, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewServer(f, zerolog.Nop(), cfg)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, newFakeSession(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStartSession(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		noSymbols  bool
		wantStatus int
		wantVars   int
	}{
		{
			name:       "inline selection",
			body:       `{"variables":[{"name":"rpm","frame":0},{"name":"state","frame":1}]}`,
			wantStatus: http.StatusOK,
			wantVars:   2,
		},
		{
			name:       "unknown variable is skipped",
			body:       `{"variables":[{"name":"rpm","frame":0},{"name":"ghost","frame":1}]}`,
			wantStatus: http.StatusOK,
			wantVars:   1,
		},
		{
			name:       "nothing resolvable",
			body:       `{"variables":[{"name":"ghost","frame":0}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty selection",
			body:       `{"variables":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{"variables":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "symbols not resolved",
			body:       `{"variables":[{"name":"rpm","frame":0}]}`,
			noSymbols:  true,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "port closed",
			body:       `{"variables":[{"name":"rpm","frame":0}]}`,
			startErr:   session.ErrPortClosed,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "already running",
			body:       `{"variables":[{"name":"rpm","frame":0}]}`,
			startErr:   session.ErrSessionActive,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "stopped while starting",
			body:       `{"variables":[{"name":"rpm","frame":0}]}`,
			startErr:   session.ErrSessionEnded,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "send failure",
			body:       `{"variables":[{"name":"rpm","frame":0}]}`,
			startErr:   errors.New("cable unplugged"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSession()
			f.startErr = tt.startErr
			if tt.noSymbols {
				f.holder = &symbols.Holder{}
			}

			rec := do(t, f, http.MethodPost, "/api/session/start", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Len(t, f.started, tt.wantVars)
		})
	}
}

func TestHandleStartSession_FromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vars.yaml"), []byte("variables:\n  - name: state\n    frame: 2\n"), 0o644))
	cfg := Config{SelectionDir: dir}

	f := newFakeSession()
	body, _ := json.Marshal(map[string]string{"path": "vars.yaml"})
	rec := doWith(t, f, cfg, http.MethodPost, "/api/session/start", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.started, 1)
	assert.Equal(t, 2, f.started[0].Descriptor.Frame)

	var resp SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	assert.Equal(t, []FrameMember{{Name: "state", Type: "uint8_t", Size: 1}}, resp.Frames[2])
}

func TestHandleStartSession_SelectionOutsideDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("variables:\n  - name: state\n"), 0o644))
	rel, err := filepath.Rel(dir, outside)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
		path string
	}{
		{"absolute path", Config{SelectionDir: dir}, outside},
		{"parent traversal", Config{SelectionDir: dir}, rel},
		{"no selections directory", Config{}, "vars.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSession()
			body, _ := json.Marshal(map[string]string{"path": tt.path})
			rec := doWith(t, f, tt.cfg, http.MethodPost, "/api/session/start", string(body))
			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
			assert.Empty(t, f.started)
		})
	}
}

func TestHandleStopSession(t *testing.T) {
	f := newFakeSession()
	rec := do(t, f, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.log.Begin([]string{"a"}, "")
	rec = do(t, f, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.stopped)
}

func TestHandleSymbols(t *testing.T) {
	f := newFakeSession()
	rec := do(t, f, http.MethodGet, "/api/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var table symbols.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &table))
	assert.Equal(t, varlog.ScalarFloat32, table.Files["motor.c"]["rpm"].Type)

	f.holder = &symbols.Holder{}
	rec = do(t, f, http.MethodGet, "/api/symbols", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLog(t *testing.T) {
	f := newFakeSession()
	f.log.Begin([]string{"a", "b"}, "")
	f.log.Append(sample(100, map[string]float64{"a": 1}))
	f.log.Append(sample(200, map[string]float64{"b": 2}))

	rec := do(t, f, http.MethodGet, "/api/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var data telemetry.Data
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, []float64{100, 200}, data.Time)
	assert.Equal(t, []float64{1, 1}, data.Signals["a"])
	assert.Equal(t, []float64{0, 2}, data.Signals["b"])

	rec = do(t, f, http.MethodGet, "/api/log/signals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["a","b"]`, rec.Body.String())

	rec = do(t, f, http.MethodGet, "/api/log/msgpack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var packed telemetry.Data
	require.NoError(t, msgpack.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&packed))
	assert.Equal(t, data, packed)
}

func TestHandleStats(t *testing.T) {
	f := newFakeSession()
	f.stats.AddBytes(42)
	rec := do(t, f, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap varlog.StatisticsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(42), snap.TotalBytes)
}

func TestHandleSession(t *testing.T) {
	f := newFakeSession()
	rec := do(t, f, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.PortOpen)
	assert.False(t, st.Running)
	assert.Empty(t, st.Frames)
}

func TestLiveStream(t *testing.T) {
	f := newFakeSession()
	f.log.Begin([]string{"a"}, "")
	f.log.Append(sample(500, map[string]float64{"a": 7}))

	srv := httptest.NewServer(NewServer(f, zerolog.Nop(), Config{StreamInterval: 10 * time.Millisecond}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/log"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var row LiveRow
	require.NoError(t, ws.ReadJSON(&row))
	assert.Equal(t, "session-1", row.Session)
	assert.True(t, row.Running)
	assert.Equal(t, 500.0, row.Time)
	assert.Equal(t, map[string]float64{"a": 7}, row.Values)
}
