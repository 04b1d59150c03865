// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Heliograph - Variable Logging Host
//
// A CLI tool for sampling firmware variables over a serial link and
// recording them as time series.

package main

import (
	"os"

	"github.com/Thermoquad/heliograph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
