// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", false)

	logger.Info().Msg("hidden")
	logger.Warn().Err(errors.New("boom")).Str("variable", "motor_rpm").Msg("rejected")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"variable":"motor_rpm"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "loud", false)

	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info")
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	assert.Empty(t, r.Lines())

	_, err := r.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, r.Lines())

	r.Write([]byte("three\n"))
	r.Write([]byte("four\n"))
	assert.Equal(t, []string{"two", "three", "four"}, r.Lines())
}

func TestRing_AsLoggerSink(t *testing.T) {
	r := NewRing(10)
	logger := New(r, "info", false)

	logger.Error().Msg("desync")
	lines := r.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "desync")
}
