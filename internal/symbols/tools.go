// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Symbol is one line of symbol-table output
type Symbol struct {
	Address uint32
	Size    uint32
	Kind    byte // nm symbol type character
	Name    string
}

// SymbolLister lists the symbols of a build artifact
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]Symbol, error)
}

// LineResolver maps an address to a "file:line" string
type LineResolver interface {
	ResolveLine(ctx context.Context, address uint32) (string, error)
}

// KeepSymbol reports whether a symbol type is statically allocated data
// (uninitialized B/b or initialized D/d), the only kind a fixed memory
// address can be logged from
func KeepSymbol(kind byte) bool {
	switch kind {
	case 'B', 'b', 'D', 'd':
		return true
	}
	return false
}

// ParseNMLine parses "<addr_hex> <size_hex> <type_char> <symbol>".
// Lines with a different shape, such as undefined symbols without an
// address or symbols without a size, are rejected.
func ParseNMLine(line string) (Symbol, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || len(fields[2]) != 1 {
		return Symbol{}, false
	}

	addr, err := strconv.ParseUint(fields[0], 16, 32)
	if err != nil {
		return Symbol{}, false
	}
	size, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return Symbol{}, false
	}

	return Symbol{
		Address: uint32(addr),
		Size:    uint32(size),
		Kind:    fields[2][0],
		Name:    fields[3],
	}, true
}

// ParseNMOutput parses nm -S output and keeps only data symbols
func ParseNMOutput(r io.Reader) ([]Symbol, error) {
	var syms []Symbol
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sym, ok := ParseNMLine(scanner.Text())
		if !ok || !KeepSymbol(sym.Kind) {
			continue
		}
		syms = append(syms, sym)
	}
	return syms, scanner.Err()
}

// NM lists symbols by running "<nm> -S <elf>"
type NM struct {
	Tool string
	ELF  string
}

// ListSymbols implements SymbolLister
func (n NM) ListSymbols(ctx context.Context) ([]Symbol, error) {
	out, err := run(ctx, n.Tool, "-S", n.ELF)
	if err != nil {
		return nil, err
	}
	return ParseNMOutput(bytes.NewReader(out))
}

// Addr2Line resolves addresses by running "<addr2line> -e <elf> <addr_hex>"
type Addr2Line struct {
	Tool string
	ELF  string
}

// ResolveLine implements LineResolver
func (a Addr2Line) ResolveLine(ctx context.Context, address uint32) (string, error) {
	out, err := run(ctx, a.Tool, "-e", a.ELF, fmt.Sprintf("%08x", address))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s: no output for 0x%08x", a.Tool, address)
	}
	return line, nil
}

func run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", tool, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", tool, strings.Join(args, " "), err)
	}
	return out, nil
}
