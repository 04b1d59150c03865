// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"fmt"
	"strings"
)

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(cmd uint8) string {
	switch cmd {
	case CmdInvalid:
		return "INVALID"
	case CmdToggleLED:
		return "TOGGLE_LED"
	case CmdSetupFrame:
		return "SETUP_FRAME"
	case CmdSetFrameSize:
		return "SET_FRAME_SIZE"
	case CmdStartLog:
		return "START_LOG"
	case CmdStopLog:
		return "STOP_LOG"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", cmd)
	}
}

// FormatResponse returns the human-readable name for a response byte
func FormatResponse(resp uint8) string {
	switch resp {
	case RespACK:
		return "ACK"
	case RespNACK:
		return "NACK"
	case FrameStart:
		return "FRAME_START"
	default:
		return fmt.Sprintf("0x%02X", resp)
	}
}

// FormatHex formats bytes as space separated hex, 16 per line
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			if i%16 == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatSample formats a decoded sample on a single line
func FormatSample(s *Sample) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[frame %d @ %d us]", s.Frame, s.Timestamp)
	for _, v := range s.Values {
		fmt.Fprintf(&sb, " %s=%s", v.Name, FormatValue(v))
	}
	return sb.String()
}

// FormatValue formats a value according to its type
func FormatValue(v Value) string {
	switch v.Type {
	case ScalarFloat32, ScalarDouble64:
		return fmt.Sprintf("%.6g", v.Value)
	default:
		return fmt.Sprintf("%.0f", v.Value)
	}
}

// FormatFrameTable describes a frame table, one line per variable
func FormatFrameTable(ft *FrameTable) string {
	var sb strings.Builder
	for id := 0; id < NumFrames; id++ {
		f := ft.Frame(id)
		if f == nil {
			fmt.Fprintf(&sb, "Frame %d: (empty)\n", id)
			continue
		}
		fmt.Fprintf(&sb, "Frame %d: %d variable(s)\n", id, len(f.Variables))
		for i := range f.Variables {
			v := &f.Variables[i]
			fmt.Fprintf(&sb, "  %-32s %-9s %d byte(s)\n", v.Name, v.Type, v.Size)
		}
	}
	return sb.String()
}
