// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

var (
	linkTestTimeout int
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test the link by waiting for the target to acknowledge STOP_LOG",
	Long: `Send STOP_LOG and wait for the target's ACK until timeout.

STOP_LOG is harmless when no session is running, so this checks wiring, baud
rate and firmware without changing the target's state. Bytes other than ACK
are skipped; a NACK is reported but the wait continues.

Exit codes:
  0 - ACK received before timeout
  1 - Timeout reached without an ACK
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 5, "Timeout in seconds to wait for the ACK")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Heliograph - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Sending %s, waiting for ACK...\n\n", varlog.FormatCommand(varlog.CmdStopLog))

	if _, err := conn.Write([]byte{varlog.CmdStopLog}); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	ackChan := make(chan int, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		skipped := 0
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, b := range buf[:n] {
				switch b {
				case varlog.RespACK:
					ackChan <- skipped
					return
				case varlog.RespNACK:
					fmt.Printf("(target replied NACK)\n")
				}
				skipped++
			}
		}
	}()

	select {
	case skipped := <-ackChan:
		fmt.Printf("SUCCESS: Target acknowledged\n")
		if skipped > 0 {
			fmt.Printf("  (skipped %d other bytes first)\n", skipped)
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(linkTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No ACK received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}

	return nil
}
