// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/heliograph/internal/symbols"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// VariableChoice assigns one variable to a frame.
// File is only needed when the name is declared in more than one file.
type VariableChoice struct {
	Name  string `json:"name" yaml:"name"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
	Frame int    `json:"frame" yaml:"frame"`
}

// SelectionFile lists the variables to log, in frame order
type SelectionFile struct {
	Variables []VariableChoice `json:"variables" yaml:"variables"`
}

// LoadSelection parses a YAML selection file
func LoadSelection(path string) (*SelectionFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseSelection(file)
}

// ParseSelection parses a selection from an io.Reader
func ParseSelection(r io.Reader) (*SelectionFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var sel SelectionFile
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return nil, fmt.Errorf("failed to parse selection: %w", err)
	}
	return &sel, nil
}

// Resolve looks every choice up in the symbol table. Choices that cannot
// be found are reported and left out; the rest keep their file order.
//
// A name chosen from more than one file is logged as "file:name" so each
// choice keeps its own signal column.
func (sf *SelectionFile) Resolve(table *symbols.Table) ([]varlog.Selection, []error) {
	if table == nil {
		return nil, []error{fmt.Errorf("no symbol table")}
	}

	uses := make(map[string]int, len(sf.Variables))
	for _, c := range sf.Variables {
		uses[c.Name]++
	}

	var out []varlog.Selection
	var errs []error
	for _, c := range sf.Variables {
		var desc varlog.VariableDescriptor
		if c.File != "" {
			d, ok := table.Lookup(c.File, c.Name)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s in %s", symbols.ErrNotFound, c.Name, c.File))
				continue
			}
			desc = d
		} else {
			_, d, err := table.Find(c.Name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			desc = d
		}
		desc.Frame = c.Frame
		name := c.Name
		if c.File != "" && uses[c.Name] > 1 {
			name = QualifiedName(c.File, c.Name)
		}
		out = append(out, varlog.Selection{Name: name, Descriptor: desc})
	}
	return out, errs
}

// QualifiedName names a variable together with its source file
func QualifiedName(file, name string) string {
	return file + ":" + name
}
