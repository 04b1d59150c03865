// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"fmt"
)

// Value is one decoded variable of a sample
type Value struct {
	Name  string
	Type  ScalarType
	Raw   uint32
	Value float64
}

// Sample is one fully decoded frame
type Sample struct {
	Frame     int
	Timestamp uint64 // microseconds
	Values    []Value
}

// Decoder implements the log stream decoder state machine.
//
// A disarmed decoder resets itself on every byte, so it can stay attached
// to the live byte stream while no session is running. After the initial
// FrameStart there is no resynchronization byte: frames follow each other
// directly, and an unknown frame id is the only sign of a corrupted stream.
type Decoder struct {
	state    int
	table    *FrameTable
	current  *Frame
	rxCount  int
	varIndex int
}

// NewDecoder creates a disarmed decoder
func NewDecoder() *Decoder {
	return &Decoder{state: stateWaitStart}
}

// Arm attaches the frame table of a starting session
func (d *Decoder) Arm(table *FrameTable) {
	d.table = table
	d.Reset()
}

// Disarm detaches the frame table
func (d *Decoder) Disarm() {
	d.table = nil
	d.Reset()
}

// Armed reports whether a frame table is attached
func (d *Decoder) Armed() bool {
	return d.table != nil
}

// Table returns the attached frame table
func (d *Decoder) Table() *FrameTable {
	return d.table
}

// Reset returns the decoder to waiting for FrameStart
func (d *Decoder) Reset() {
	d.state = stateWaitStart
	d.current = nil
	d.rxCount = 0
	d.varIndex = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed sample, or nil if the frame is incomplete.
// Returns ErrUnconfiguredFrame (wrapped) when the stream names a frame that
// was not configured; the decoder is reset and the caller should abort.
func (d *Decoder) DecodeByte(b byte) (*Sample, error) {
	if d.table == nil {
		d.Reset()
		return nil, nil
	}

	switch d.state {
	case stateWaitStart:
		if b == FrameStart {
			d.state = stateFrameID
		}
		return nil, nil

	case stateFrameID:
		frame := d.table.Frame(int(b))
		if frame == nil {
			d.Reset()
			return nil, fmt.Errorf("%w: received frame id %d", ErrUnconfiguredFrame, b)
		}
		d.current = frame
		d.current.LatestTimestamp = 0
		d.rxCount = 0
		d.state = stateReceiveTime
		return nil, nil

	case stateReceiveTime:
		// Most significant byte first
		d.current.LatestTimestamp |= uint64(b) << (8 * (TimestampSize - 1 - d.rxCount))
		d.rxCount++
		if d.rxCount >= TimestampSize {
			d.current.LatestTimestamp *= TickMicros
			d.rxCount = 0
			d.varIndex = 0
			d.state = stateReceiveVariables
		}
		return nil, nil

	case stateReceiveVariables:
		v := &d.current.Variables[d.varIndex]
		if d.rxCount == 0 {
			v.Latest = 0
		}
		v.Latest |= uint32(b) << (8 * (v.Size - 1 - d.rxCount))
		d.rxCount++
		if d.rxCount < v.Size {
			return nil, nil
		}

		d.rxCount = 0
		d.varIndex++
		if d.varIndex < len(d.current.Variables) {
			return nil, nil
		}

		sample := d.sample()
		d.state = stateFrameID
		return sample, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// sample copies the current frame into a completed sample
func (d *Decoder) sample() *Sample {
	f := d.current
	s := &Sample{
		Frame:     f.ID,
		Timestamp: f.LatestTimestamp,
		Values:    make([]Value, len(f.Variables)),
	}
	for i, v := range f.Variables {
		s.Values[i] = Value{
			Name:  v.Name,
			Type:  v.Type,
			Raw:   v.Latest,
			Value: Cast(v.Latest, v.Type),
		}
	}
	return s
}
