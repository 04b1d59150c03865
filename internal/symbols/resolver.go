// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package symbols derives variable addresses, sizes and C types from a
// firmware build using the nm and addr2line tools
package symbols

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// StaticMarker is the file name used for variables addr2line cannot place
const StaticMarker = "-- (declared static?)"

// UnsetPath marks a tool or artifact path that was never configured
const UnsetPath = "-"

// ErrConfig reports a missing or nonexistent tool or artifact path
var ErrConfig = errors.New("symbol resolution not configured")

var (
	// basename and line of "/path/to/file.c:72"
	fileLineRegex = regexp.MustCompile(`([^/\\]+):(\d+)`)
	// full path and line
	pathLineRegex = regexp.MustCompile(`^(.*):(\d+)`)
)

// Paths are the inputs of a resolution pass
type Paths struct {
	ELF       string
	NM        string
	Addr2Line string
}

// CheckPaths verifies every path is set and exists
func CheckPaths(p Paths) error {
	for _, c := range []struct{ what, path string }{
		{"ELF file", p.ELF},
		{"nm", p.NM},
		{"addr2line", p.Addr2Line},
	} {
		if c.path == "" || c.path == UnsetPath {
			return fmt.Errorf("%w: %s path is not set", ErrConfig, c.what)
		}
		if _, err := os.Stat(c.path); err != nil {
			return fmt.Errorf("%w: %s %s does not exist", ErrConfig, c.what, c.path)
		}
	}
	return nil
}

// Resolver builds symbol tables from its tool ports
type Resolver struct {
	Symbols  SymbolLister
	Lines    LineResolver
	ReadFile func(name string) ([]byte, error)
	Logger   zerolog.Logger
}

// NewResolver creates a resolver that runs the nm and addr2line tools
func NewResolver(p Paths, logger zerolog.Logger) *Resolver {
	return &Resolver{
		Symbols:  NM{Tool: p.NM, ELF: p.ELF},
		Lines:    Addr2Line{Tool: p.Addr2Line, ELF: p.ELF},
		ReadFile: os.ReadFile,
		Logger:   logger,
	}
}

// Resolve checks the paths and runs one resolution pass with the tools
func Resolve(ctx context.Context, p Paths, logger zerolog.Logger) (*Table, error) {
	if err := CheckPaths(p); err != nil {
		return nil, err
	}
	return NewResolver(p, logger).Resolve(ctx)
}

// Resolve lists the data symbols and places each one in its source file
func (r *Resolver) Resolve(ctx context.Context) (*Table, error) {
	syms, err := r.Symbols.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	table := NewTable()
	sources := map[string][]string{}

	for _, sym := range syms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, typ := r.locate(ctx, sym, sources)
		table.Add(file, sym.Name, varlog.VariableDescriptor{
			Address: sym.Address,
			Size:    sym.Size,
			Type:    typ,
		})
	}

	table.ResolvedAt = time.Now()
	r.Logger.Info().Int("variables", table.Len()).Int("files", len(table.Files)).Msg("symbols resolved")
	return table, nil
}

// locate returns the source basename and scanned type of one symbol
func (r *Resolver) locate(ctx context.Context, sym Symbol, sources map[string][]string) (string, varlog.ScalarType) {
	out, err := r.Lines.ResolveLine(ctx, sym.Address)
	if err != nil {
		r.Logger.Warn().Err(err).Str("symbol", sym.Name).Msg("failed to resolve source line")
		return StaticMarker, varlog.ScalarUint32
	}

	m := fileLineRegex.FindStringSubmatch(out)
	if m == nil || m[1] == "??" {
		return StaticMarker, varlog.ScalarUint32
	}
	return m[1], r.scanSource(out, sources)
}

// scanSource reads the declaration line named by "path:line" and scans it
func (r *Resolver) scanSource(fileLine string, sources map[string][]string) varlog.ScalarType {
	m := pathLineRegex.FindStringSubmatch(fileLine)
	if m == nil {
		return varlog.ScalarUint32
	}
	path := m[1]
	lineNo, err := strconv.Atoi(m[2])
	if err != nil || lineNo < 1 {
		return varlog.ScalarUint32
	}

	lines, ok := sources[path]
	if !ok {
		data, err := r.ReadFile(path)
		if err != nil {
			r.Logger.Error().Err(err).Str("file", path).Msg("could not open source file")
		}
		lines = splitLines(data)
		sources[path] = lines
	}

	if lineNo > len(lines) {
		return varlog.ScalarUint32
	}
	return ScanType(lines[lineNo-1])
}

func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
