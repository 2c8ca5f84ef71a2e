package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <pe-file>",
	Short: "Scan for RTTI and report statistics",
	Long:  `Scan a PE image for complete object locators and report how many candidates survived each stage.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	report, err := analyze(cmd.Context(), args[0], nil)
	if err != nil {
		return err
	}

	ti := report.TypeInfo
	fmt.Fprintf(output, "Image Base: 0x%X\n", report.ImageBase)
	fmt.Fprintf(output, "Pointer Size: %d\n", report.PointerSize)
	switch {
	case ti.Confirmed:
		fmt.Fprintf(output, "type_info vftable: 0x%X\n", ti.VFTable)
	case ti.Known:
		fmt.Fprintf(output, "type_info vftable: 0x%X %s\n", ti.VFTable, warnStyle.Render("(unconfirmed)"))
	default:
		fmt.Fprintf(output, "type_info vftable: %s\n", warnStyle.Render("not found"))
	}
	fmt.Fprintf(output, "Type Descriptors: %s\n", humanize.Comma(int64(ti.Descriptors)))
	fmt.Fprintln(output)

	s := report.Stats
	rows := []struct {
		label string
		value int
	}{
		{"Candidates", s.Candidates},
		{"Validated", s.Validated},
		{"Malformed", s.Malformed},
		{"Rejected", s.Rejected},
		{"Empty vftables", s.EmptyVftables},
		{"Classes", s.Classes},
	}
	for _, r := range rows {
		fmt.Fprintf(output, "%-16s %s\n", r.label+":", humanize.Comma(int64(r.value)))
	}
	return nil
}
