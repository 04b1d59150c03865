// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"fmt"
	"sync"
)

// TargetVariable is one entry of the target's frame table
type TargetVariable struct {
	Address uint32
	Size    uint32
}

// TargetFrame is one frame of the target's fixed-capacity frame table
type TargetFrame struct {
	ID        uint32
	Count     uint32
	Variables [MaxFrameVariables]TargetVariable
}

// TargetFrameTable is the frame table as the firmware stores it
type TargetFrameTable [MaxTargetFrames]TargetFrame

// SetupDecoder rebuilds a TargetFrameTable from setup-frame payload bytes.
//
// Each byte is OR'ed into the field addressed by the cursor's offset within
// the current frame: offsets 0-3 hold the frame id, 4-7 the variable count,
// and every following 8-byte descriptor holds an address (4 bytes, LSB
// first) and a size (4 bytes, 1 to MaxRawSize). Once a frame's count is known the frame
// spans PreambleSize + DescriptorSize*count bytes. FrameStart at offset 0
// completes the configuration.
type SetupDecoder struct {
	table  TargetFrameTable
	frame  int
	cursor int
	frames int
}

// NewSetupDecoder creates a setup decoder with a zeroed table
func NewSetupDecoder() *SetupDecoder {
	return &SetupDecoder{}
}

// Reset zeroes the frame table and rewinds the cursor.
// OR'ing bytes into the table relies on it being zeroed first.
func (s *SetupDecoder) Reset() {
	s.table = TargetFrameTable{}
	s.frame = 0
	s.cursor = 0
	s.frames = 0
}

// Table returns a copy of the decoded frame table
func (s *SetupDecoder) Table() TargetFrameTable {
	return s.table
}

// Frames returns how many complete frames have been received
func (s *SetupDecoder) Frames() int {
	return s.frames
}

// frameLength is the byte length of the current frame once its count is known
func (s *SetupDecoder) frameLength() int {
	return PreambleSize + DescriptorSize*int(s.table[s.frame].Count)
}

// DecodeByte consumes one setup payload byte.
// Returns true when FrameStart completes the configuration.
func (s *SetupDecoder) DecodeByte(b byte) (bool, error) {
	if s.cursor == 0 && b == FrameStart {
		s.frame = 0
		s.cursor = 0
		return true, nil
	}

	if s.frame >= MaxTargetFrames {
		return false, fmt.Errorf("%w: more than %d frames", ErrFrameTableFull, MaxTargetFrames)
	}

	frame := &s.table[s.frame]
	off := s.cursor
	shift := 8 * (off % fieldSize)

	switch {
	case off < fieldSize:
		frame.ID |= uint32(b) << shift
	case off < PreambleSize:
		frame.Count |= uint32(b) << shift
		if off == PreambleSize-1 && frame.Count > MaxFrameVariables {
			return false, fmt.Errorf("%w: frame %d declares %d variables (max %d)", ErrFrameTableFull, s.frame, frame.Count, MaxFrameVariables)
		}
	default:
		desc := (off - PreambleSize) / DescriptorSize
		field := (off - PreambleSize) % DescriptorSize
		v := &frame.Variables[desc]
		if field < fieldSize {
			v.Address |= uint32(b) << shift
		} else {
			v.Size |= uint32(b) << shift
			if field == DescriptorSize-1 && (v.Size == 0 || v.Size > MaxRawSize) {
				return false, fmt.Errorf("%w: frame %d variable %d has size %d (valid 1-%d)", ErrVariableTooLarge, s.frame, desc, v.Size, MaxRawSize)
			}
		}
	}

	s.cursor++
	if s.cursor >= PreambleSize && s.cursor == s.frameLength() {
		s.cursor = 0
		s.frame++
		s.frames++
	}
	return false, nil
}

// Memory gives the target mirror access to little-endian target memory
type Memory interface {
	ReadMemory(address uint32, data []byte) error
}

// Target mirrors the firmware side of the protocol: the command handler
// that consumes host bytes, and the frame transmitter.
type Target struct {
	mu       sync.Mutex
	handler  int
	setup    *SetupDecoder
	frames   TargetFrameTable
	started  bool
	ticks    uint32
	tickSize uint32
}

// NewTarget creates a target with the default 50 µs tick
func NewTarget() *Target {
	return &Target{
		handler:  -1,
		setup:    NewSetupDecoder(),
		tickSize: DefaultTickSize,
	}
}

// SetTickSize sets how many 10 µs units each Tick adds
func (t *Target) SetTickSize(units uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickSize = units
}

// Tick advances the log clock by one tick
func (t *Target) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks += t.tickSize
}

// Ticks returns the log clock in 10 µs units
func (t *Target) Ticks() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Started reports whether START_LOG was received
func (t *Target) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Frames returns the frame table from the last completed setup
func (t *Target) Frames() TargetFrameTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// HandleByte runs one received byte through the command handlers and
// returns the bytes to send back, if any
func (t *Target) HandleByte(b byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler == -1 {
		t.handler = int(b)
		if t.handler == CmdSetupFrame {
			// The command byte itself starts a fresh table
			t.setup.Reset()
			return nil
		}
	}

	switch t.handler {
	case CmdSetupFrame:
		done, err := t.setup.DecodeByte(b)
		if err != nil {
			t.handler = -1
			t.setup.Reset()
			return []byte{RespNACK}
		}
		if !done {
			return nil
		}
		t.frames = t.setup.Table()
		t.handler = -1
		return []byte{RespACK}

	case CmdStartLog:
		t.handler = -1
		t.started = true
		return []byte{RespACK, FrameStart}

	case CmdStopLog:
		t.handler = -1
		t.started = false
		return []byte{RespACK}

	default:
		t.handler = -1
		return []byte{RespNACK}
	}
}

// TransmitFrame builds the stream bytes for one frame: the frame id, the
// log clock MSB first, then every variable MSB first.
// Returns nil while logging is stopped or when the frame has no variables.
func (t *Target) TransmitFrame(id int, mem Memory) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || id < 0 || id >= MaxTargetFrames {
		return nil, nil
	}
	frame := &t.frames[id]
	if frame.Count == 0 {
		return nil, nil
	}

	ticks := t.ticks
	tx := []byte{uint8(id), uint8(ticks >> 24), uint8(ticks >> 16), uint8(ticks >> 8), uint8(ticks)}

	buf := make([]byte, MaxRawSize)
	for i := 0; i < int(frame.Count); i++ {
		v := frame.Variables[i]
		src := buf[:v.Size]
		if err := mem.ReadMemory(v.Address, src); err != nil {
			return nil, fmt.Errorf("frame %d variable %d at 0x%08X: %w", id, i, v.Address, err)
		}
		for j := int(v.Size) - 1; j >= 0; j-- {
			tx = append(tx, src[j])
		}
	}
	return tx, nil
}
