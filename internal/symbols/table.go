// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// Lookup errors
var (
	ErrNotFound  = errors.New("variable not found")
	ErrAmbiguous = errors.New("variable name is declared in more than one file")
)

// Table maps source file basename to variable name to descriptor.
// A Table is never modified after it is published to a Holder.
type Table struct {
	Files      map[string]map[string]varlog.VariableDescriptor `json:"files" cbor:"1,keyasint"`
	ResolvedAt time.Time                                       `json:"resolved_at" cbor:"2,keyasint"`
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{Files: map[string]map[string]varlog.VariableDescriptor{}}
}

// Add records a variable under a file
func (t *Table) Add(file, name string, desc varlog.VariableDescriptor) {
	vars, ok := t.Files[file]
	if !ok {
		vars = map[string]varlog.VariableDescriptor{}
		t.Files[file] = vars
	}
	vars[name] = desc
}

// Len returns the number of variables
func (t *Table) Len() int {
	n := 0
	for _, vars := range t.Files {
		n += len(vars)
	}
	return n
}

// FileNames returns the file names, sorted
func (t *Table) FileNames() []string {
	names := make([]string, 0, len(t.Files))
	for name := range t.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariableNames returns the variable names of one file, sorted
func (t *Table) VariableNames(file string) []string {
	vars := t.Files[file]
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the descriptor of a variable in a file
func (t *Table) Lookup(file, name string) (varlog.VariableDescriptor, bool) {
	desc, ok := t.Files[file][name]
	return desc, ok
}

// Find looks a variable up by name alone. It fails with ErrAmbiguous when
// more than one file declares the name.
func (t *Table) Find(name string) (string, varlog.VariableDescriptor, error) {
	var (
		foundFile string
		found     varlog.VariableDescriptor
		matches   []string
	)
	for _, file := range t.FileNames() {
		if desc, ok := t.Files[file][name]; ok {
			foundFile, found = file, desc
			matches = append(matches, file)
		}
	}

	switch len(matches) {
	case 0:
		return "", varlog.VariableDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
		return foundFile, found, nil
	default:
		return "", varlog.VariableDescriptor{}, fmt.Errorf("%w: %s in %v", ErrAmbiguous, name, matches)
	}
}

// Holder publishes the current table to concurrent readers.
// Readers may keep a stale table; it stays internally consistent.
type Holder struct {
	p atomic.Pointer[Table]
}

// Load returns the current table, or nil before the first resolution
func (h *Holder) Load() *Table {
	return h.p.Load()
}

// Store replaces the current table
func (h *Holder) Store(t *Table) {
	h.p.Store(t)
}
