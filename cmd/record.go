// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

var (
	recordDuration time.Duration
	recordInterval time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a logging session to CSV",
	Long: `Configure the target with the variables in the selection file and record
until Ctrl+C or --duration.

The selection file lists variables by name and assigns each to a frame:

  variables:
    - name: motor_rpm
      frame: 0
    - name: state
      file: pump.c   # needed when the name exists in several files
      frame: 1

The session is written to <log-dir>/<start time>.csv when it stops.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	addSessionFlags(recordCmd)
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 records until Ctrl+C)")
	recordCmd.Flags().DurationVar(&recordInterval, "stats-interval", time.Second, "Status line interval")
}

func runRecord(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	m := newManager(store, logger)
	if err := loadSymbols(cmd.Context(), m, logger); err != nil {
		return err
	}
	selection, err := loadSelection(m, varsPath, logger)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		return err
	}
	if err := m.Open(conn); err != nil {
		conn.Close()
		return err
	}
	m.Run()
	defer m.Shutdown()

	fmt.Printf("Heliograph - Record\n")
	fmt.Printf("Connection: %s\n", connInfo)

	if err := m.Start(selection); err != nil {
		return err
	}

	fmt.Printf("Session: %s\n", m.SessionID())
	fmt.Print(varlog.FormatFrameTable(m.FrameTable()))
	fmt.Printf("Press Ctrl+C to stop\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var deadline <-chan time.Time
	if recordDuration > 0 {
		deadline = time.After(recordDuration)
	}

	if recordInterval <= 0 {
		recordInterval = time.Second
	}
	ticker := time.NewTicker(recordInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigChan:
			fmt.Println()
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			if !m.IsLogRunning() {
				// stopped by a stream desync
				break loop
			}
			snap := m.Stats().Snapshot()
			fmt.Printf("\rrows=%d samples=%d %.0f B/s %.1f samples/s desyncs=%d",
				m.Log().Rows(), snap.Samples, snap.ByteRate, snap.SampleRate, snap.Desyncs)
		}
	}

	if err := m.Stop(); err != nil {
		return err
	}

	fmt.Printf("\n%s\n", m.Stats().String())
	fmt.Printf("Wrote %d rows to %s\n", m.Log().Rows(), m.Log().Path())
	return nil
}
