// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"encoding/binary"
	"fmt"
)

// FrameVariable is one variable slot of a host-side frame
type FrameVariable struct {
	Name   string
	Size   int
	Type   ScalarType
	Latest uint32 // last raw value received
}

// Frame is one configured frame. Variable order matches the order the
// target was told to expect and must never be changed.
type Frame struct {
	ID              int
	LatestTimestamp uint64 // microseconds
	Variables       []FrameVariable
}

// FrameTable holds the frames configured for a logging session
type FrameTable struct {
	frames [NumFrames]*Frame
}

// Frame returns the configured frame for id, or nil
func (ft *FrameTable) Frame(id int) *Frame {
	if ft == nil || id < 0 || id >= NumFrames {
		return nil
	}
	return ft.frames[id]
}

// Configured reports whether id has at least one variable
func (ft *FrameTable) Configured(id int) bool {
	return ft.Frame(id) != nil
}

// Names returns every variable name in frame then configuration order
func (ft *FrameTable) Names() []string {
	var names []string
	for _, f := range ft.frames {
		if f == nil {
			continue
		}
		for i := range f.Variables {
			names = append(names, f.Variables[i].Name)
		}
	}
	return names
}

// Setup is an encoded setup-frame command together with the host-side
// frame table that matches it
type Setup struct {
	Payload []byte // CmdSetupFrame, per-frame preambles and descriptors, FrameStart
	Table   *FrameTable
}

// Command returns the full configure-then-go byte sequence
func (s *Setup) Command() []byte {
	cmd := make([]byte, 0, len(s.Payload)+1)
	cmd = append(cmd, s.Payload...)
	return append(cmd, CmdStartLog)
}

// validateSelection checks one variable against what the protocol can carry
func validateSelection(sel Selection) error {
	d := sel.Descriptor
	switch {
	case d.Frame < 0 || d.Frame >= NumFrames:
		return fmt.Errorf("%w: %d (valid 0-%d)", ErrInvalidFrame, d.Frame, NumFrames-1)
	case d.Size > MaxDescriptorSize:
		return fmt.Errorf("%w: size %d larger than %d", ErrVariableTooLarge, d.Size, MaxDescriptorSize)
	case d.Size == 0 || d.Size > MaxRawSize:
		return fmt.Errorf("%w: size %d (valid 1-%d)", ErrVariableTooLarge, d.Size, MaxRawSize)
	case !d.Type.Supported():
		return fmt.Errorf("%w: %s does not fit a 32-bit raw value", ErrUnsupportedType, d.Type)
	}
	return nil
}

// BuildSetup encodes a setup-frame command for the given selections.
//
// For every frame 0..NumFrames-1 it emits an 8-byte preamble (frame id and
// variable count, each padded to 32 bits) followed by one 8-byte descriptor
// per variable (address LSB first, then size padded to 32 bits), and ends
// the payload with FrameStart. A rejected variable is left out of both the
// payload and its frame's variable count; one error is returned per
// rejected variable and encoding continues. Names are signal columns, so a
// name selected twice is rejected after its first use.
func BuildSetup(selections []Selection) (*Setup, []error) {
	var errs []error
	var perFrame [NumFrames][]Selection
	seen := make(map[string]bool, len(selections))

	for _, sel := range selections {
		if err := validateSelection(sel); err != nil {
			errs = append(errs, &VariableError{Name: sel.Name, Err: err})
			continue
		}
		if seen[sel.Name] {
			errs = append(errs, &VariableError{Name: sel.Name, Err: ErrDuplicateName})
			continue
		}
		seen[sel.Name] = true
		perFrame[sel.Descriptor.Frame] = append(perFrame[sel.Descriptor.Frame], sel)
	}

	table := &FrameTable{}
	payload := []byte{CmdSetupFrame}

	for id := 0; id < NumFrames; id++ {
		vars := perFrame[id]
		if len(vars) > MaxFrameVariables {
			for _, sel := range vars[MaxFrameVariables:] {
				errs = append(errs, &VariableError{Name: sel.Name, Err: fmt.Errorf("%w: frame %d holds %d variables", ErrFrameTableFull, id, MaxFrameVariables)})
			}
			vars = vars[:MaxFrameVariables]
		}

		var preamble [PreambleSize]byte
		preamble[0] = uint8(id)
		preamble[fieldSize] = uint8(len(vars))
		payload = append(payload, preamble[:]...)

		if len(vars) == 0 {
			continue
		}

		frame := &Frame{ID: id, Variables: make([]FrameVariable, 0, len(vars))}
		for _, sel := range vars {
			var desc [DescriptorSize]byte
			binary.LittleEndian.PutUint32(desc[:fieldSize], sel.Descriptor.Address)
			desc[fieldSize] = uint8(sel.Descriptor.Size)
			payload = append(payload, desc[:]...)

			frame.Variables = append(frame.Variables, FrameVariable{
				Name: sel.Name,
				Size: int(sel.Descriptor.Size),
				Type: sel.Descriptor.Type,
			})
		}
		table.frames[id] = frame
	}

	payload = append(payload, FrameStart)

	return &Setup{Payload: payload, Table: table}, errs
}
