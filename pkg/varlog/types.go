// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"errors"
	"fmt"
)

// ScalarType is the declared C type of a target variable
type ScalarType int

// Scalar type values
const (
	ScalarUint8 ScalarType = iota
	ScalarUint16
	ScalarUint32
	ScalarInt8
	ScalarInt16
	ScalarInt32
	ScalarFloat32
	ScalarDouble64
	ScalarChar
	ScalarBool
	ScalarUnknown
)

// scalarKeywords maps C type keywords to scalar types, in scan priority order
var scalarKeywords = []struct {
	keyword string
	typ     ScalarType
}{
	{"uint8_t", ScalarUint8},
	{"uint16_t", ScalarUint16},
	{"uint32_t", ScalarUint32},
	{"int8_t", ScalarInt8},
	{"int16_t", ScalarInt16},
	{"int32_t", ScalarInt32},
	{"float", ScalarFloat32},
	{"double", ScalarDouble64},
	{"char", ScalarChar},
	{"bool", ScalarBool},
}

// ParseScalarType returns the scalar type named by a C keyword
func ParseScalarType(keyword string) (ScalarType, bool) {
	for _, k := range scalarKeywords {
		if k.keyword == keyword {
			return k.typ, true
		}
	}
	return ScalarUnknown, false
}

// String returns the C keyword for the type
func (t ScalarType) String() string {
	for _, k := range scalarKeywords {
		if k.typ == t {
			return k.keyword
		}
	}
	return "unknown"
}

// MarshalText lets scalar types appear by name in JSON and YAML output
func (t ScalarType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts a C keyword; anything else becomes ScalarUnknown
func (t *ScalarType) UnmarshalText(text []byte) error {
	*t, _ = ParseScalarType(string(text))
	return nil
}

// Supported reports whether a value of this type fits the 32-bit raw value
func (t ScalarType) Supported() bool {
	return t != ScalarDouble64
}

// VariableDescriptor describes one target variable
type VariableDescriptor struct {
	Address uint32     `json:"address" yaml:"address" cbor:"1,keyasint"`
	Size    uint32     `json:"size" yaml:"size" cbor:"2,keyasint"`
	Frame   int        `json:"frame" yaml:"frame" cbor:"3,keyasint"`
	Type    ScalarType `json:"type" yaml:"type" cbor:"4,keyasint"`
}

// Selection is one variable chosen for a logging session.
// Selections are encoded in slice order.
type Selection struct {
	Name       string
	Descriptor VariableDescriptor
}

// Protocol errors
var (
	ErrUnconfiguredFrame = errors.New("frame id not configured")
	ErrUnsupportedType   = errors.New("unsupported scalar type")
	ErrVariableTooLarge  = errors.New("variable size not supported")
	ErrInvalidFrame      = errors.New("frame id out of range")
	ErrFrameTableFull    = errors.New("target frame table full")
	ErrDuplicateName     = errors.New("variable name already selected")
)

// VariableError reports a variable rejected while building a setup frame
type VariableError struct {
	Name string
	Err  error
}

// Error implements the error interface
func (e *VariableError) Error() string {
	return fmt.Sprintf("variable %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying protocol error
func (e *VariableError) Unwrap() error {
	return e.Err
}
