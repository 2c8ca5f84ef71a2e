package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skdltmxn/rtti-go/image"
)

var infoCmd = &cobra.Command{
	Use:   "info <pe-file>",
	Short: "Display PE image information",
	Long:  `Display the machine, pointer width, image base and section layout of a PE image.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := image.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(output, "File: %s\n", path)
	fmt.Fprintf(output, "Machine: %s (0x%04X)\n", f.MachineName(), f.Machine())
	fmt.Fprintf(output, "Pointer Size: %d\n", f.PointerSize())
	fmt.Fprintf(output, "Image Base: 0x%X\n", f.ImageBase())
	fmt.Fprintf(output, "Section Alignment: 0x%X\n", f.SectionAlignment())
	fmt.Fprintln(output)

	fmt.Fprintln(output, headerStyle.Render(fmt.Sprintf("%-8s  %-10s  %-10s  %-4s  %s", "Name", "RVA", "Size", "Perm", "Flags")))
	var total uint64
	for _, s := range f.Sections() {
		size := uint64(s.MappedSize(f.SectionAlignment()))
		total += size
		fmt.Fprintf(output, "%-8s  0x%08X  %-10s  %-4s  %s\n",
			s.Name, s.VirtualAddress, humanize.Bytes(size), s.Characteristics.Perm(), s.Characteristics)
	}
	fmt.Fprintf(output, "\n%d sections, %s mapped\n", len(f.Sections()), humanize.Bytes(total))

	var constData, writable int
	for _, r := range image.DataRegions(f, true) {
		if r.IsConstData() {
			constData++
		} else {
			writable++
		}
	}
	fmt.Fprintf(output, "%d read-only and %d writable data sections\n", constData, writable)
	return nil
}
