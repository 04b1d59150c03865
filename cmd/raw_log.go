// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display received bytes as hex",
	Long: `Continuously display the bytes arriving on the connection as hex.

Nothing is sent to the target. Combine with "send" from another terminal to
watch replies and frame streams byte by byte.

Works over a serial port or a serial bridge.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	// Serial port or bridge
	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Heliograph - Raw Byte Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A bridge that went away does not come back
			if errors.Is(err, ErrLinkClosed) {
				logger.Info().Msg("bridge closed")
				return nil
			}
			logger.Error().Err(err).Msg("read error")
			continue
		}
		if n == 0 {
			continue
		}

		fmt.Printf("[%s] ", time.Now().Format("15:04:05.000"))
		for i, b := range buf[:n] {
			if i > 0 && i%16 == 0 {
				fmt.Printf("\n               ")
			}
			fmt.Printf("%02X ", b)
		}
		fmt.Println()
	}
}
