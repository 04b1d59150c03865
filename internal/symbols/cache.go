// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package symbols

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// ErrStaleCache reports a cache written for a different artifact build
var ErrStaleCache = errors.New("symbol cache does not match artifact")

// cacheFile is the on-disk form of a resolved table
type cacheFile struct {
	ModTime int64  `cbor:"1,keyasint"` // artifact mod time, unix nanoseconds
	Table   *Table `cbor:"2,keyasint"`
}

// SaveCache writes the table tagged with the artifact's modification time
func SaveCache(path string, modTime time.Time, table *Table) error {
	data, err := cbor.Marshal(cacheFile{ModTime: modTime.UnixNano(), Table: table})
	if err != nil {
		return fmt.Errorf("failed to encode symbol cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write symbol cache: %w", err)
	}
	return nil
}

// LoadCache reads a table saved for the given artifact modification time
func LoadCache(path string, modTime time.Time) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cf cacheFile
	if err := cbor.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to decode symbol cache: %w", err)
	}
	if cf.ModTime != modTime.UnixNano() || cf.Table == nil {
		return nil, ErrStaleCache
	}
	if cf.Table.Files == nil {
		cf.Table.Files = map[string]map[string]varlog.VariableDescriptor{}
	}
	return cf.Table, nil
}
