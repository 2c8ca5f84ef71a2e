package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/rtti-go/typedb"
)

var typesCmd = &cobra.Command{
	Use:   "types <pe-file>",
	Short: "Emit recovered types as a C header",
	Long:  `Recover classes and print their struct and vftable definitions as C declarations.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTypes,
}

func runTypes(cmd *cobra.Command, args []string) error {
	db := typedb.NewMemory()
	report, err := analyze(cmd.Context(), args[0], db)
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "// %d classes, %d types recovered from %s\n\n", report.Stats.Classes, db.Len(), args[0])
	if err := db.WriteHeader(output); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}
