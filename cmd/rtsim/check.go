//go:build !tinygo

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errInvalidTable = errors.New("invalid thread table")

var checkCmd = &cobra.Command{
	Use:   "check [table.yaml...]",
	Short: "Validate thread tables",
	Long:  "Validate thread tables. With no arguments the built-in table is checked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{""}
		}

		w := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			name := path
			if name == "" {
				name = "<built-in>"
			}
			table, err := loadTable(path)
			if err != nil {
				failed++
				fmt.Fprintf(w, "%s: FAIL\n", name)
				for _, line := range strings.Split(err.Error(), "\n") {
					fmt.Fprintf(w, "  %s\n", line)
				}
				continue
			}
			fmt.Fprintf(w, "%s: ok (%d threads)\n", name, len(table.Threads))
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d", errInvalidTable, failed, len(args))
		}
		return nil
	},
}
