// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

var emulatePeriod time.Duration

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate a logging target on a serial port",
	Long: `Run the target side of the protocol on a serial port.

The emulator accepts SETUP_FRAME, START_LOG and STOP_LOG like the firmware
and, while started, transmits every configured frame each --period. Memory is
synthetic: every variable reads as a counter that advances by one per read,
seeded from its address.

Connect two ports with a null-modem cable or a virtual pair (socat) and run
record or monitor on the other end.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().DurationVar(&emulatePeriod, "period", 50*time.Microsecond, "Frame period (multiple of 10us)")
}

// syntheticMemory is little-endian target memory where each word counts up
type syntheticMemory struct {
	mu    sync.Mutex
	words map[uint32]uint32
}

func newSyntheticMemory() *syntheticMemory {
	return &syntheticMemory{words: map[uint32]uint32{}}
}

func (m *syntheticMemory) ReadMemory(address uint32, data []byte) error {
	if len(data) > varlog.MaxRawSize {
		return errors.New("read wider than a word")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.words[address]
	if !ok {
		v = address & 0xFF
	}
	m.words[address] = v + 1

	var raw [varlog.MaxRawSize]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	copy(data, raw[:])
	return nil
}

// tickUnits converts a frame period to 10us ticks
func tickUnits(period time.Duration) uint32 {
	units := uint32(period / (varlog.TickMicros * time.Microsecond))
	if units == 0 {
		units = 1
	}
	return units
}

func runEmulate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		return err
	}
	defer conn.Close()

	target := varlog.NewTarget()
	target.SetTickSize(tickUnits(emulatePeriod))
	mem := newSyntheticMemory()

	fmt.Printf("Heliograph - Target Emulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Frame period: %s\n", emulatePeriod)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var writeMu sync.Mutex
	write := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write(data)
		return err
	}

	done := make(chan struct{})
	errChan := make(chan error, 2)

	// Command reader
	go func() {
		buf := make([]byte, 64)
		wasStarted := false
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, b := range buf[:n] {
				reply := target.HandleByte(b)
				if reply == nil {
					continue
				}
				logger.Debug().Str("rx", fmt.Sprintf("%02X", b)).Str("tx", varlog.FormatHex(reply)).Msg("command")
				if err := write(reply); err != nil {
					errChan <- err
					return
				}
			}
			if started := target.Started(); started != wasStarted {
				wasStarted = started
				if started {
					logger.Info().Msg("logging started")
				} else {
					logger.Info().Uint32("ticks", target.Ticks()).Msg("logging stopped")
				}
			}
		}
	}()

	// Frame transmitter
	go func() {
		ticker := time.NewTicker(emulatePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !target.Started() {
					continue
				}
				target.Tick()
				for id := 0; id < varlog.NumFrames; id++ {
					tx, err := target.TransmitFrame(id, mem)
					if err != nil {
						logger.Error().Err(err).Int("frame", id).Msg("frame read failed")
						continue
					}
					if tx == nil {
						continue
					}
					if err := write(tx); err != nil {
						errChan <- err
						return
					}
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		close(done)
		return nil
	case err := <-errChan:
		close(done)
		return fmt.Errorf("link failed: %w", err)
	}
}
