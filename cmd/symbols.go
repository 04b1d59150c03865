// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliograph/internal/symbols"
)

var symbolsJSON bool

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Resolve and list loggable variables",
	Long: `Run nm and addr2line on the firmware ELF and list every global and static
data variable, grouped by source file.

Variables whose source line cannot be found are listed under
"-- (declared static?)" and default to uint32_t.

Tool and ELF paths come from the settings file.`,
	RunE: runSymbols,
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
	symbolsCmd.Flags().BoolVar(&symbolsJSON, "json", false, "Print the table as JSON")
}

func runSymbols(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := loadSettings(cmd, logger)

	table, err := symbols.Resolve(cmd.Context(), store.Get().Paths(), logger)
	if err != nil {
		return err
	}

	if symbolsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	}

	fmt.Printf("Heliograph - Symbols\n")
	fmt.Printf("ELF: %s\n", store.Get().ELFFilePath)
	fmt.Printf("Variables: %d\n\n", table.Len())

	for _, file := range table.FileNames() {
		fmt.Printf("%s\n", file)
		for _, name := range table.VariableNames(file) {
			desc, _ := table.Lookup(file, name)
			fmt.Printf("  %-32s 0x%08X  %3d  %s\n", name, desc.Address, desc.Size, desc.Type)
		}
	}
	return nil
}
