package main

import (
	"github.com/spf13/cobra"

	"github.com/sydlexius/intake/internal/spreadsheet"
)

func newParseCSVCommand(_ *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-csv <file>",
		Short: "Print the rows of a CSV export as JSON objects keyed by header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := spreadsheet.ParseFile(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, rows)
		},
	}
}
