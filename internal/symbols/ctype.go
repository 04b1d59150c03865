// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// CLexer tokenizes a single line of C source.
// It only needs to tell identifiers apart from everything else, so any
// other character falls through to Punct.
var CLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*|/\*([^*]|\*+[^*/])*\*+/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Char", Pattern: `'(?:[^'\\]|\\.)*'`},
	{Name: "Number", Pattern: `[0-9][0-9a-zA-Z_.]*`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[^\s\w]`},
})

var identToken = CLexer.Symbols()["Ident"]

// ScanType returns the first C scalar type keyword found on a declaration
// line, or ScalarUint32 when there is none.
//
// This is a heuristic: declarations spanning several lines, macros and
// typedefs are not resolved.
func ScanType(line string) varlog.ScalarType {
	lex, err := CLexer.LexString("", line)
	if err != nil {
		return varlog.ScalarUint32
	}
	for {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			return varlog.ScalarUint32
		}
		if tok.Type != identToken {
			continue
		}
		if t, ok := varlog.ParseScalarType(tok.Value); ok {
			return t
		}
	}
}
