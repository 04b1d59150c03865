// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/api"
)

var (
	serveListen     string
	serveInterval   time.Duration
	serveSelections string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the telemetry log and session control over HTTP",
	Long: `Run a logging host with an HTTP API.

Routes:
  GET  /api/health          server health
  GET  /api/session         port, session and frame status
  POST /api/session/start   {"variables":[{"name":"x","frame":0}]} or {"path":"vars.yaml"}
                            (path is relative to --selections)
  POST /api/session/stop    stop and write the session CSV
  GET  /api/symbols         resolved symbol table
  GET  /api/log             time vector and signal values (JSON)
  GET  /api/log/signals     signal names
  GET  /api/log/msgpack     time vector and signal values (msgpack)
  GET  /api/stats           stream statistics
  GET  /api/ws/log          websocket stream of the latest row

Symbols are re-resolved whenever the firmware ELF changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addSessionFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "127.0.0.1:8089", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveInterval, "stream-interval", api.DefaultStreamInterval, "Live stream push interval")
	serveCmd.Flags().StringVar(&serveSelections, "selections", "", "Directory of selection files clients may name (empty allows inline variables only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	m := newManager(store, logger)
	if err := loadSymbols(cmd.Context(), m, logger); err != nil {
		logger.Warn().Err(err).Msg("symbols unavailable until the ELF is configured")
	}

	conn, connInfo, err := OpenLink(store.Get())
	if err != nil {
		logger.Warn().Err(err).Msg("serving without a target connection")
		connInfo = "(none)"
	} else if err := m.Open(conn); err != nil {
		conn.Close()
		return err
	}
	m.Run()
	defer m.Shutdown()

	e := api.NewServer(m, logger, api.Config{
		StreamInterval: serveInterval,
		SelectionDir:   serveSelections,
	})

	fmt.Printf("Heliograph - Server\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Listening: http://%s/api\n", serveListen)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	errChan := make(chan error, 1)
	go func() {
		if err := e.Start(serveListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}
	return nil
}
