// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import "math"

// Cast converts a raw value received from the target to a float64.
//
// Integer types use the low bytes of raw, sign-extending the signed ones.
// Float32 reinterprets the 32 bits as IEEE-754 single precision. A double
// cannot be carried in 32 bits and yields NaN; such variables are rejected
// when the setup frame is built. Everything else reads raw as uint32.
func Cast(raw uint32, t ScalarType) float64 {
	switch t {
	case ScalarUint8:
		return float64(uint8(raw))
	case ScalarUint16:
		return float64(uint16(raw))
	case ScalarUint32:
		return float64(raw)
	case ScalarInt8:
		return float64(int8(uint8(raw)))
	case ScalarInt16:
		return float64(int16(uint16(raw)))
	case ScalarInt32:
		return float64(int32(raw))
	case ScalarFloat32:
		return float64(math.Float32frombits(raw))
	case ScalarDouble64:
		return math.NaN()
	default:
		return float64(raw)
	}
}
