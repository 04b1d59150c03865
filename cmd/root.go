// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/config"
	"github.com/Thermoquad/heliograph/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// Serial bridge flags
	bridgeURL      string
	bridgeUsername string
	bridgeInsecure bool

	// Settings and logging flags
	settingsPath string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "heliograph",
	Short: "Firmware Variable Logger",
	Long: `Heliograph - A CLI tool for sampling firmware variables over a serial link.

Variables are looked up in the firmware ELF with nm and addr2line, assigned to
one of three frames and streamed by the target with a shared timestamp. Each
logging session is recorded as a carry-forward time series and written to
logs/<start time>.csv when it stops.

Connection modes:
  Serial: --port /dev/ttyACM0 [--baud 250000]
  Bridge: --url ws://host/path [--username user]
          (a network serial bridge forwarding the target UART over WebSocket)

Serial port, baud rate and tool paths are persisted in the settings file
(default resources/serial_settings.json). Flags override the stored values.

A bridge password is read from HELIOGRAPH_PASSWORD, or prompted for when
running in a terminal. There is no --password flag.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (default from settings)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaudRate, "Baud rate (serial only)")

	// Serial bridge flags
	rootCmd.PersistentFlags().StringVarP(&bridgeURL, "url", "u", "", "Serial bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&bridgeUsername, "username", "", "Bridge username (HTTP Basic auth)")
	rootCmd.PersistentFlags().BoolVar(&bridgeInsecure, "no-ssl-verify", false, "Skip bridge TLS certificate verification (wss:// only)")

	// Settings and logging flags
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", config.DefaultSettingsPath, "Connection settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger installs the console logger for a command
func newLogger() zerolog.Logger {
	return logging.Setup(logLevel)
}

// loadSettings reads the settings file and applies connection flags the
// user set explicitly. A damaged file is reported and replaced by defaults.
func loadSettings(cmd *cobra.Command, logger zerolog.Logger) *config.Store {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		logger.Warn().Err(err).Msg("using default settings")
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		s.PortName = portName
	}
	if flags.Changed("baud") {
		s.BaudRate = baudRate
	}
	return config.NewStore(settingsPath, s)
}
