// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"encoding/binary"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

var fuzzTypes = []struct {
	size uint32
	typ  ScalarType
}{
	{1, ScalarUint8},
	{1, ScalarInt8},
	{2, ScalarUint16},
	{2, ScalarInt16},
	{4, ScalarUint32},
	{4, ScalarInt32},
	{4, ScalarFloat32},
}

// randomSelections builds up to 12 valid selections spread over random frames
func randomSelections(rng *rand.Rand) ([]Selection, fakeMemory) {
	n := 1 + rng.Intn(12)
	selections := make([]Selection, 0, n)
	mem := make(fakeMemory)
	for i := 0; i < n; i++ {
		ft := fuzzTypes[rng.Intn(len(fuzzTypes))]
		addr := 0x20000000 + uint32(i)*4
		selections = append(selections, sel(strconv.Itoa(i), addr, ft.size, rng.Intn(NumFrames), ft.typ))

		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], rng.Uint32())
		mem[addr] = raw[:ft.size]
	}
	return selections, mem
}

// ============================================================
// Fuzz Tests
// ============================================================

// TestFuzz_RoundTrip checks that whatever the target transmits for a random
// configuration decodes to the raw values stored in its memory
func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		selections, mem := randomSelections(rng)
		setup, errs := BuildSetup(selections)
		if len(errs) != 0 {
			t.Fatalf("round %d: unexpected errors: %v", round, errs)
		}

		target := NewTarget()
		d := NewDecoder()
		d.Arm(setup.Table)

		var stream []byte
		for _, b := range setup.Command() {
			stream = append(stream, target.HandleByte(b)...)
		}
		target.SetTickSize(uint32(1 + rng.Intn(100)))
		target.Tick()
		for id := 0; id < NumFrames; id++ {
			tx, err := target.TransmitFrame(id, mem)
			if err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
			stream = append(stream, tx...)
		}

		samples, derrs := decodeAll(d, stream)
		if len(derrs) != 0 {
			t.Fatalf("round %d: decode errors: %v", round, derrs)
		}

		for _, s := range samples {
			if s.Timestamp != uint64(target.Ticks())*TickMicros {
				t.Fatalf("round %d: timestamp %d, ticks %d", round, s.Timestamp, target.Ticks())
			}
			for i, v := range s.Values {
				fv := setup.Table.Frame(s.Frame).Variables[i]
				var raw [4]byte
				copy(raw[:], mem[selections[mustIndex(v.Name)].Descriptor.Address])
				expected := binary.LittleEndian.Uint32(raw[:])
				if v.Raw != expected {
					t.Fatalf("round %d: %s raw 0x%08X, expected 0x%08X (size %d)", round, v.Name, v.Raw, expected, fv.Size)
				}
			}
		}
	}
}

// TestFuzz_DecoderRandomBytes feeds garbage to an armed decoder; it must
// never panic and every error must be a desync
func TestFuzz_DecoderRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		selections, _ := randomSelections(rng)
		setup, _ := BuildSetup(selections)

		d := NewDecoder()
		d.Arm(setup.Table)

		data := make([]byte, rng.Intn(256))
		rng.Read(data)
		for _, b := range data {
			if _, err := d.DecodeByte(b); err != nil && d.state != stateWaitStart {
				t.Fatalf("round %d: decoder not reset after error %v", round, err)
			}
		}
	}
}

// TestFuzz_SetupDecoderRandomBytes feeds garbage to the target-side setup
// decoder and transmits whatever table it accepted; neither step may panic
// or index past its buffers
func TestFuzz_SetupDecoderRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		target := NewTarget()
		data := make([]byte, 1+rng.Intn(512))
		rng.Read(data)
		data[0] = CmdSetupFrame
		feedTarget(target, data)

		// Whatever table survived must be transmittable
		feedTarget(target, []byte{CmdStartLog})
		target.Tick()
		for id := 0; id < MaxTargetFrames; id++ {
			if _, err := target.TransmitFrame(id, zeroMemory{}); err != nil {
				t.Fatalf("round %d: TransmitFrame(%d): %v", round, id, err)
			}
		}
	}
}

// zeroMemory reads zeros at every address
type zeroMemory struct{}

func (zeroMemory) ReadMemory(address uint32, data []byte) error {
	clear(data)
	return nil
}

func mustIndex(name string) int {
	i, err := strconv.Atoi(name)
	if err != nil {
		panic(err)
	}
	return i
}
