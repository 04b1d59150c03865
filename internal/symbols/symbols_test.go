// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// ============================================================
// Fake Tool Ports
// ============================================================

type fakeLister struct {
	syms []Symbol
	err  error
}

func (f fakeLister) ListSymbols(context.Context) ([]Symbol, error) {
	return f.syms, f.err
}

type fakeLines map[uint32]string

func (f fakeLines) ResolveLine(_ context.Context, address uint32) (string, error) {
	line, ok := f[address]
	if !ok {
		return "", errors.New("addr2line failed")
	}
	return line, nil
}

func fakeFS(files map[string]string) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		content, ok := files[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(content), nil
	}
}

// ============================================================
// nm Output Parsing
// ============================================================

func TestParseNMOutput_KeepsDataSymbols(t *testing.T) {
	out := strings.Join([]string{
		"20000000 00000004 B my_var",
		"20000000 00000004 T my_func",
		"20000010 00000002 b local_counter",
		"20000020 00000001 D initialized",
		"20000024 00000004 d static_init",
		"08001000 00000010 R const_table",
		"         U external_symbol",
		"20000030 W weak_no_size",
		"",
	}, "\n")

	syms, err := ParseNMOutput(strings.NewReader(out))
	require.NoError(t, err)

	var names []string
	for _, s := range syms {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"my_var", "local_counter", "initialized", "static_init"}, names)
	assert.Equal(t, Symbol{Address: 0x20000000, Size: 4, Kind: 'B', Name: "my_var"}, syms[0])
	assert.Equal(t, uint32(2), syms[1].Size)
}

func TestParseNMLine(t *testing.T) {
	sym, ok := ParseNMLine("2000abcd 000000ff D buffer")
	require.True(t, ok)
	assert.Equal(t, uint32(0x2000abcd), sym.Address)
	assert.Equal(t, uint32(0xff), sym.Size)

	_, ok = ParseNMLine("zzzz 0004 B bad_addr")
	assert.False(t, ok)
	_, ok = ParseNMLine("20000000 0004 BB bad_type")
	assert.False(t, ok)
}

// ============================================================
// Declaration Scanner
// ============================================================

func TestScanType(t *testing.T) {
	tests := []struct {
		line     string
		expected varlog.ScalarType
	}{
		{"static uint8_t counter;", varlog.ScalarUint8},
		{"volatile int16_t offset = -5;", varlog.ScalarInt16},
		{"float temperature_c = 21.5f;", varlog.ScalarFloat32},
		{"uint16_t *ptr;", varlog.ScalarUint16},
		{"uint32_t arr[4] = {0};", varlog.ScalarUint32},
		{"double ratio;", varlog.ScalarDouble64},
		{"bool enabled;", varlog.ScalarBool},
		{"char name[16] = \"float\";", varlog.ScalarChar},
		{"my_struct_t state; // float in a comment", varlog.ScalarUint32},
		{"static int8_t /* uint32_t */ trim;", varlog.ScalarInt8},
		{"unsigned long ticks;", varlog.ScalarUint32},
		{"", varlog.ScalarUint32},
		{"uint8_t_alias x;", varlog.ScalarUint32},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScanType(tt.line))
		})
	}
}

// ============================================================
// Resolver
// ============================================================

func TestResolve_GroupsByBasename(t *testing.T) {
	r := &Resolver{
		Symbols: fakeLister{syms: []Symbol{
			{Address: 0x20000000, Size: 1, Kind: 'B', Name: "motor_state"},
			{Address: 0x20000004, Size: 4, Kind: 'D', Name: "motor_rpm"},
			{Address: 0x20000008, Size: 2, Kind: 'b', Name: "adc_raw"},
		}},
		Lines: fakeLines{
			0x20000000: "/src/app/motor.c:3",
			0x20000004: "/src/app/motor.c:4 (discriminator 2)",
			0x20000008: `C:\src\drivers\adc.c:1`,
		},
		ReadFile: fakeFS(map[string]string{
			"/src/app/motor.c": "#include <stdint.h>\n\nstatic uint8_t motor_state;\nfloat motor_rpm = 0;\n",
			`C:\src\drivers\adc.c`: "static int16_t adc_raw;\n",
		}),
		Logger: zerolog.Nop(),
	}

	table, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"adc.c", "motor.c"}, table.FileNames())
	assert.Equal(t, 3, table.Len())

	desc, ok := table.Lookup("motor.c", "motor_state")
	require.True(t, ok)
	assert.Equal(t, varlog.VariableDescriptor{Address: 0x20000000, Size: 1, Type: varlog.ScalarUint8}, desc)

	desc, _ = table.Lookup("motor.c", "motor_rpm")
	assert.Equal(t, varlog.ScalarFloat32, desc.Type)

	desc, _ = table.Lookup("adc.c", "adc_raw")
	assert.Equal(t, varlog.ScalarInt16, desc.Type)
}

func TestResolve_UnresolvedGoesToStaticMarker(t *testing.T) {
	r := &Resolver{
		Symbols: fakeLister{syms: []Symbol{
			{Address: 0x10, Size: 1, Kind: 'b', Name: "no_match"},
			{Address: 0x20, Size: 2, Kind: 'b', Name: "unknown_line"},
			{Address: 0x30, Size: 4, Kind: 'b', Name: "tool_failed"},
		}},
		Lines: fakeLines{
			0x10: "garbage without a line",
			0x20: "??:0",
		},
		ReadFile: fakeFS(nil),
		Logger:   zerolog.Nop(),
	}

	table, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StaticMarker}, table.FileNames())
	for _, name := range []string{"no_match", "unknown_line", "tool_failed"} {
		desc, ok := table.Lookup(StaticMarker, name)
		require.True(t, ok, name)
		assert.Equal(t, varlog.ScalarUint32, desc.Type, name)
	}
}

func TestResolve_UnknownSourceIsNotAFile(t *testing.T) {
	r := &Resolver{
		Symbols: fakeLister{syms: []Symbol{
			{Address: 0x10, Size: 1, Kind: 'd', Name: "zero_line"},
			{Address: 0x20, Size: 1, Kind: 'd', Name: "unknown_line"},
		}},
		Lines: fakeLines{
			0x10: "??:0",
			0x20: "??:?",
		},
		ReadFile: fakeFS(nil),
		Logger:   zerolog.Nop(),
	}

	table, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, table.FileNames(), "??")
	assert.Equal(t, []string{"unknown_line", "zero_line"}, table.VariableNames(StaticMarker))
}

func TestResolve_MissingSourceDefaultsToUint32(t *testing.T) {
	r := &Resolver{
		Symbols:  fakeLister{syms: []Symbol{{Address: 0x10, Size: 1, Kind: 'B', Name: "x"}}},
		Lines:    fakeLines{0x10: "/gone/main.c:12"},
		ReadFile: fakeFS(nil),
		Logger:   zerolog.Nop(),
	}

	table, err := r.Resolve(context.Background())
	require.NoError(t, err)
	desc, ok := table.Lookup("main.c", "x")
	require.True(t, ok)
	assert.Equal(t, varlog.ScalarUint32, desc.Type)
}

func TestResolve_ListerError(t *testing.T) {
	r := &Resolver{Symbols: fakeLister{err: io.ErrUnexpectedEOF}, Logger: zerolog.Nop()}
	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCheckPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(existing, nil, 0o755))

	valid := Paths{ELF: existing, NM: existing, Addr2Line: existing}
	assert.NoError(t, CheckPaths(valid))

	for name, p := range map[string]Paths{
		"empty elf":         {ELF: "", NM: existing, Addr2Line: existing},
		"unset nm":          {ELF: existing, NM: UnsetPath, Addr2Line: existing},
		"missing addr2line": {ELF: existing, NM: existing, Addr2Line: filepath.Join(dir, "nope")},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, CheckPaths(p), ErrConfig)
		})
	}
}

func TestResolve_ConfigErrorSkipsTools(t *testing.T) {
	_, err := Resolve(context.Background(), Paths{ELF: UnsetPath, NM: "/bin/false", Addr2Line: "/bin/false"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)
}

// ============================================================
// Table and Holder
// ============================================================

func TestTable_Find(t *testing.T) {
	table := NewTable()
	table.Add("a.c", "shared", varlog.VariableDescriptor{Address: 1})
	table.Add("b.c", "shared", varlog.VariableDescriptor{Address: 2})
	table.Add("b.c", "unique", varlog.VariableDescriptor{Address: 3})

	file, desc, err := table.Find("unique")
	require.NoError(t, err)
	assert.Equal(t, "b.c", file)
	assert.Equal(t, uint32(3), desc.Address)

	_, _, err = table.Find("shared")
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, _, err = table.Find("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"shared", "unique"}, table.VariableNames("b.c"))
}

func TestHolder(t *testing.T) {
	var h Holder
	assert.Nil(t, h.Load())

	first := NewTable()
	h.Store(first)
	held := h.Load()

	second := NewTable()
	second.Add("x.c", "v", varlog.VariableDescriptor{})
	h.Store(second)

	assert.Same(t, first, held, "readers keep the table they loaded")
	assert.Same(t, second, h.Load())
}

// ============================================================
// Change Detection
// ============================================================

type fakeInfo struct {
	os.FileInfo
	mod time.Time
}

func (f fakeInfo) ModTime() time.Time { return f.mod }

func TestChangeDetector_WaitsForStableFile(t *testing.T) {
	mod := time.Unix(1000, 0)
	missing := false
	d := NewChangeDetector()
	d.stat = func(string) (os.FileInfo, error) {
		if missing {
			return nil, os.ErrNotExist
		}
		return fakeInfo{mod: mod}, nil
	}

	assert.False(t, d.Poll("fw.elf"), "first sighting is a change")
	assert.True(t, d.Poll("fw.elf"), "first unchanged poll triggers")
	assert.False(t, d.Poll("fw.elf"), "triggers once")

	mod = mod.Add(time.Second)
	assert.False(t, d.Poll("fw.elf"))
	mod = mod.Add(time.Second)
	assert.False(t, d.Poll("fw.elf"), "still being written")
	assert.True(t, d.Poll("fw.elf"))

	missing = true
	assert.False(t, d.Poll("fw.elf"))
	assert.False(t, d.Poll(UnsetPath))
}

// ============================================================
// CBOR Cache
// ============================================================

func TestCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "symbols.cbor")
	mod := time.Unix(1700000000, 123456789)

	table := NewTable()
	table.Add("motor.c", "motor_rpm", varlog.VariableDescriptor{Address: 0x20000004, Size: 4, Type: varlog.ScalarFloat32})
	table.Add(StaticMarker, "hidden", varlog.VariableDescriptor{Address: 0x20000010, Size: 2, Type: varlog.ScalarUint32})

	require.NoError(t, SaveCache(path, mod, table))

	loaded, err := LoadCache(path, mod)
	require.NoError(t, err)
	assert.Equal(t, table.Files, loaded.Files)

	_, err = LoadCache(path, mod.Add(time.Nanosecond))
	assert.ErrorIs(t, err, ErrStaleCache)

	_, err = LoadCache(filepath.Join(t.TempDir(), "none.cbor"), mod)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
