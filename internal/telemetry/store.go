// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry holds decoded samples as a carry-forward time series.
//
// Every signal has one value per time row. A sample with a newer timestamp
// opens a row that starts as a copy of the previous one; the sample's
// variables then overwrite their own column in the last row. Signals the
// sample does not carry keep their previous value.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// LogDir is where session logs are written
const LogDir = "logs"

// pathLayout mirrors the firmware tools' %Y-%m-%d_%H'%M''%S file naming
const pathLayout = "2006-01-02_15'04''05"

// DefaultPath returns the CSV path for a session started at t
func DefaultPath(t time.Time) string {
	return PathIn(LogDir, t)
}

// PathIn returns the CSV path for a session started at t, inside dir
func PathIn(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(pathLayout)+".csv")
}

// Data is a copy of the log contents
type Data struct {
	Time    []float64            `json:"time" msgpack:"time"` // microseconds
	Signals map[string][]float64 `json:"signals" msgpack:"signals"`
}

// Rows returns the number of time rows
func (d Data) Rows() int {
	return len(d.Time)
}

// Names returns the signal names, sorted
func (d Data) Names() []string {
	names := make([]string, 0, len(d.Signals))
	for name := range d.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Log is the telemetry log of one logging session.
// The running flag and the series share one mutex.
type Log struct {
	mu      sync.Mutex
	data    Data
	path    string
	running bool
	now     func() time.Time
}

// NewLog creates an empty, stopped log
func NewLog() *Log {
	return &Log{
		data: Data{Signals: map[string][]float64{}},
		now:  time.Now,
	}
}

// Begin clears the log, declares one empty column per name and marks the
// log running. An empty path selects DefaultPath for the current time.
func (l *Log) Begin(names []string, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data = Data{Signals: make(map[string][]float64, len(names))}
	for _, name := range names {
		l.data.Signals[name] = []float64{}
	}
	if path == "" {
		path = DefaultPath(l.now())
	}
	l.path = path
	l.running = true
}

// End marks the log stopped and reports whether it was running
func (l *Log) End() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.running
	l.running = false
	return was
}

// Running reports whether a session is appending to the log
func (l *Log) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Path returns the CSV path of the current session
func (l *Log) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Append adds a decoded sample while the log is running.
// Returns false when the sample did not open a new row, either because the
// log is stopped or because its timestamp is not newer than the last row.
func (l *Log) Append(s *varlog.Sample) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running || s == nil {
		return false
	}

	t := float64(s.Timestamp)
	added := false
	switch {
	case len(l.data.Time) == 0:
		l.data.Time = append(l.data.Time, t)
		for name, col := range l.data.Signals {
			l.data.Signals[name] = append(col, 0.0)
		}
		added = true
	case t > l.data.Time[len(l.data.Time)-1]:
		l.data.Time = append(l.data.Time, t)
		for name, col := range l.data.Signals {
			l.data.Signals[name] = append(col, col[len(col)-1])
		}
		added = true
	}

	for _, v := range s.Values {
		col, ok := l.data.Signals[v.Name]
		if !ok || len(col) == 0 {
			continue
		}
		col[len(col)-1] = v.Value
	}
	return added
}

// Snapshot returns a deep copy of the log
func (l *Log) Snapshot() Data {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := Data{
		Time:    slices.Clone(l.data.Time),
		Signals: make(map[string][]float64, len(l.data.Signals)),
	}
	for name, col := range l.data.Signals {
		cp.Signals[name] = slices.Clone(col)
	}
	return cp
}

// SignalNames returns the declared signal names, sorted
func (l *Log) SignalNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Names()
}

// Time returns a copy of the time vector
func (l *Log) Time() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.data.Time)
}

// Values returns a copy of one signal's values
func (l *Log) Values(name string) ([]float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	col, ok := l.data.Signals[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(col), true
}

// Latest returns the last row
func (l *Log) Latest() (float64, map[string]float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.data.Time)
	if n == 0 {
		return 0, nil, false
	}
	row := make(map[string]float64, len(l.data.Signals))
	for name, col := range l.data.Signals {
		row[name] = col[n-1]
	}
	return l.data.Time[n-1], row, true
}

// Rows returns the number of time rows
func (l *Log) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data.Time)
}

// Save writes the log to the session path
func (l *Log) Save() error {
	path := l.Path()
	if path == "" {
		return fmt.Errorf("no session log path")
	}
	return l.SaveTo(path)
}

// SaveTo writes the log as CSV to path, creating its directory.
// Every line, header included, ends with a trailing comma.
func (l *Log) SaveTo(path string) error {
	data := l.Snapshot()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not open log file %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes data in the session log layout
func WriteCSV(w io.Writer, data Data) error {
	names := data.Names()
	cw := csv.NewWriter(w)

	record := make([]string, 0, len(names)+2)
	record = append(record, "Time")
	record = append(record, names...)
	record = append(record, "")
	if err := cw.Write(record); err != nil {
		return err
	}

	for i, t := range data.Time {
		record = record[:0]
		record = append(record, formatFloat(t))
		for _, name := range names {
			record = append(record, formatFloat(data.Signals[name][i]))
		}
		record = append(record, "")
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
