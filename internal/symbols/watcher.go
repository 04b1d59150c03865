// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"os"
	"time"
)

// ChangeDetector watches a build artifact's modification time.
// Poll reports a change only once the file has stopped changing, so an
// artifact still being written by the linker is never resolved.
type ChangeDetector struct {
	last    time.Time
	pending bool
	stat    func(name string) (os.FileInfo, error)
}

// NewChangeDetector creates a detector that treats the first poll as a change
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{stat: os.Stat}
}

// Poll returns true on the first unchanged poll after a change
func (d *ChangeDetector) Poll(path string) bool {
	if path == "" || path == UnsetPath {
		return false
	}
	info, err := d.stat(path)
	if err != nil {
		return false
	}

	mt := info.ModTime()
	if !mt.Equal(d.last) {
		d.last = mt
		d.pending = true
		return false
	}
	if d.pending {
		d.pending = false
		return true
	}
	return false
}

// ModTime returns the last modification time seen
func (d *ChangeDetector) ModTime() time.Time {
	return d.last
}
