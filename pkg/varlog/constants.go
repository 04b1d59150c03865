// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package varlog implements the variable logging serial protocol.
//
// The host tells the target which memory addresses to sample by sending a
// setup-frame command. The target then streams frames: a frame id, a 32-bit
// tick timestamp and the raw bytes of every configured variable, most
// significant byte first. This package provides the host-side setup encoder
// and stream decoder, and a target-side mirror of the firmware that decodes
// the same setup bytes and produces the same stream.
package varlog

// Command bytes (host → target)
const (
	CmdInvalid      = 0x00
	CmdToggleLED    = 0x01 // reserved
	CmdSetupFrame   = 0x02
	CmdSetFrameSize = 0x03 // reserved
	CmdStartLog     = 0x04
	CmdStopLog      = 0x05

	numCommands = 0x06
)

// Response bytes (target → host)
const (
	RespACK  = 0x06
	RespNACK = 0x15
)

// FrameStart marks the beginning of the stream after START_LOG.
// It doubles as the sentinel that terminates a setup-frame payload.
const FrameStart = 0xFF

// Frame layout limits
const (
	NumFrames = 3 // frames configured by the host

	// MaxTargetFrames and MaxFrameVariables size the target's fixed frame table.
	MaxTargetFrames   = 4
	MaxFrameVariables = 0x1F

	// Every field on the setup wire is padded to 32 bits.
	fieldSize         = 4
	PreambleSize      = 2 * fieldSize // frame id + variable count
	DescriptorSize    = 2 * fieldSize // address + size
	MaxDescriptorSize = 0xFF          // size is carried in a single byte
	MaxRawSize        = 4             // raw values accumulate into 32 bits
	TimestampSize     = 4
)

// Timing
const (
	// TickMicros converts target ticks to microseconds.
	TickMicros = 10

	// DefaultTickSize is how many 10 µs units the target advances per tick.
	DefaultTickSize = 5
)

// Log stream decoder states (internal)
const (
	stateWaitStart = iota
	stateFrameID
	stateReceiveTime
	stateReceiveVariables
)
