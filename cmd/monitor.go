// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/logging"
)

var monitorEventLines int

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive live view of a logging session",
	Long: `Show the latest value of every selected variable in a terminal UI.

Press s to configure the target and start logging, x to stop and write the
CSV, q to quit. Log events (rejected variables, desyncs, symbol refreshes)
appear in the event pane.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addSessionFlags(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorEventLines, "events", 100, "Event lines kept for the event pane")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Events go to the ring so they do not tear the alternate screen
	events := logging.NewRing(monitorEventLines)
	logger := logging.New(events, logLevel, true)

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

	p := tea.NewProgram(initialModel(m, selection, events, connInfo))
	_, err = p.Run()
	return err
}
