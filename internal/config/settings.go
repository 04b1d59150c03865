// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads and persists connection settings and variable
// selections
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Thermoquad/heliograph/internal/symbols"
)

// Defaults
const (
	DefaultSettingsPath = "resources/serial_settings.json"
	DefaultBaudRate     = 250000
	DefaultPortName     = "/dev/ttyACM0"
)

// Settings are the connection settings persisted between runs
type Settings struct {
	BaudRate    int    `json:"baud_rate"`
	PortName    string `json:"port_name"`
	ELFFilePath string `json:"elf_file_path"`
	NM          string `json:"nm"`
	Addr2Line   string `json:"addr2line"`
}

// Defaults returns settings with every fallback applied
func Defaults() Settings {
	return Settings{
		BaudRate:    DefaultBaudRate,
		PortName:    DefaultPortName,
		ELFFilePath: symbols.UnsetPath,
		NM:          symbols.UnsetPath,
		Addr2Line:   symbols.UnsetPath,
	}
}

// Paths returns the symbol resolution inputs
func (s Settings) Paths() symbols.Paths {
	return symbols.Paths{ELF: s.ELFFilePath, NM: s.NM, Addr2Line: s.Addr2Line}
}

// normalize replaces empty values with their fallbacks
func (s *Settings) normalize() {
	if s.BaudRate <= 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.PortName == "" {
		s.PortName = DefaultPortName
	}
	for _, p := range []*string{&s.ELFFilePath, &s.NM, &s.Addr2Line} {
		if *p == "" {
			*p = symbols.UnsetPath
		}
	}
}

// LoadSettings reads settings from path. A missing file yields the
// defaults; a file that cannot be parsed yields the defaults and an error.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	loaded.normalize()
	return loaded, nil
}

// SaveSettings writes settings to path with 4-space indentation
func SaveSettings(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	return nil
}

// Store shares settings between the command surface and housekeeping
type Store struct {
	mu    sync.RWMutex
	path  string
	s     Settings
	saved *Settings
}

// NewStore creates a store persisting to path
func NewStore(path string, s Settings) *Store {
	s.normalize()
	return &Store{path: path, s: s}
}

// Path returns the settings file path
func (st *Store) Path() string {
	return st.path
}

// Get returns a copy of the current settings
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Update modifies the settings under the store's lock
func (st *Store) Update(fn func(*Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
	st.s.normalize()
}

// Save persists the settings if they changed since the last save
func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.saved != nil && *st.saved == st.s {
		return nil
	}
	if err := SaveSettings(st.path, st.s); err != nil {
		return err
	}
	saved := st.s
	st.saved = &saved
	return nil
}
