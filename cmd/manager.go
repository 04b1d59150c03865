// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/config"
	"github.com/Thermoquad/heliograph/internal/session"
	"github.com/Thermoquad/heliograph/internal/symbols"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// DefaultCachePath is where the resolved symbol table is cached
const DefaultCachePath = "resources/symbols.cbor"

var (
	logDir    string
	cachePath string
	varsPath  string
)

// addSessionFlags registers the flags shared by commands that log
func addSessionFlags(c *cobra.Command) {
	c.Flags().StringVar(&logDir, "log-dir", "logs", "Directory for session CSV files")
	c.Flags().StringVar(&cachePath, "symbol-cache", DefaultCachePath, "Symbol table cache file (empty disables)")
	c.Flags().StringVar(&varsPath, "vars", "vars.yaml", "Variable selection file (YAML)")
}

// newManager builds a session manager over the settings store
func newManager(store *config.Store, logger zerolog.Logger) *session.Manager {
	return session.NewManager(session.Options{
		Settings:  store,
		Logger:    logger,
		LogDir:    logDir,
		CachePath: cachePath,
		ByteDelay: session.DefaultByteDelay,
	})
}

// loadSymbols publishes a symbol table, from the cache when it matches the
// ELF, otherwise by running nm and addr2line
func loadSymbols(ctx context.Context, m *session.Manager, logger zerolog.Logger) error {
	p := m.Settings().Get().Paths()
	if cachePath != "" {
		if info, err := os.Stat(p.ELF); err == nil {
			if table, err := symbols.LoadCache(cachePath, info.ModTime()); err == nil {
				m.Symbols().Store(table)
				logger.Debug().Str("cache", cachePath).Msg("symbols loaded from cache")
				return nil
			}
		}
	}
	if err := m.ResolveSymbols(ctx); err != nil {
		if errors.Is(err, symbols.ErrConfig) {
			return fmt.Errorf("%w (set elf_file_path, nm and addr2line in %s)", err, m.Settings().Path())
		}
		return err
	}
	return nil
}

// loadSelection resolves the selection file against the current table.
// Entries that cannot be resolved are logged and skipped.
func loadSelection(m *session.Manager, path string, logger zerolog.Logger) ([]varlog.Selection, error) {
	sf, err := config.LoadSelection(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load variable selection: %w", err)
	}
	sel, errs := sf.Resolve(m.Symbols().Load())
	for _, err := range errs {
		logger.Error().Err(err).Msg("selection entry skipped")
	}
	if len(sel) == 0 {
		return nil, session.ErrNoVariables
	}
	return sel, nil
}
