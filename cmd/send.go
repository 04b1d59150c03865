// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/session"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <hex>...",
	Short: "Send raw bytes to the target",
	Long: `Send raw bytes to the target, one byte per millisecond.

Bytes are given as hex, with or without a 0x prefix and separated or not:
  heliograph send 05
  heliograph send 0x04 0x05
  heliograph send 0204

With --wait, bytes received during that time are printed as hex.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", 0, "Print bytes received for this long after sending")
}

// parseHexArgs joins the arguments into one byte string
func parseHexArgs(args []string) ([]byte, error) {
	var sb strings.Builder
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
			if len(field)%2 == 1 {
				field = "0" + field
			}
			sb.WriteString(field)
		}
	}
	data, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytes: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}
	return data, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	data, err := parseHexArgs(args)
	if err != nil {
		return err
	}

	logger := newLogger()
	store := loadSettings(cmd, logger)

	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Heliograph - Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if len(data) == 1 {
		fmt.Printf("Command: %s\n", varlog.FormatCommand(data[0]))
	}
	fmt.Printf("TX: %s\n", varlog.FormatHex(data))

	for i := range data {
		if _, err := conn.Write(data[i : i+1]); err != nil {
			return fmt.Errorf("write failed after %d of %d bytes: %w", i, len(data), err)
		}
		time.Sleep(session.DefaultByteDelay)
	}

	if sendWait <= 0 {
		return nil
	}

	chunks := make(chan []byte, 16)
	go func() {
		defer close(chunks)
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
		}
	}()

	var rx []byte
	timeout := time.After(sendWait)
wait:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break wait
			}
			rx = append(rx, chunk...)
		case <-timeout:
			break wait
		}
	}

	if len(rx) == 0 {
		fmt.Printf("RX: (nothing within %s)\n", sendWait)
		return nil
	}
	fmt.Printf("RX: %s\n", varlog.FormatHex(rx))
	if len(rx) <= 2 {
		for _, b := range rx {
			fmt.Printf("    %s\n", varlog.FormatResponse(b))
		}
	}
	return nil
}
